package storage

import (
	"github.com/hatlonely/secidx/cfg/validator"
)

// ValidateStorage 在 ConvertTo 之后按 validate tag 校验结构体
type ValidateStorage struct {
	Storage
}

func NewValidateStorage(s Storage) *ValidateStorage {
	return &ValidateStorage{Storage: s}
}

func (vs *ValidateStorage) Sub(key string) Storage {
	return NewValidateStorage(vs.Storage.Sub(key))
}

func (vs *ValidateStorage) ConvertTo(object any) error {
	if err := vs.Storage.ConvertTo(object); err != nil {
		return err
	}
	return validator.ValidateStruct(object)
}
