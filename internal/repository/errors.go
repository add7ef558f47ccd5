package repository

import (
	"errors"
)

// ErrEquipmentNotFound 设备不存在
var ErrEquipmentNotFound = errors.New("equipment not found")
