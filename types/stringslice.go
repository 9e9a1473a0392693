package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringSlice is a []string stored as a JSON array, it implements driver.Valuer and sql.Scanner
type StringSlice []string

// Value return json value, implement driver.Valuer interface
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]string(s))
	return string(ba), err
}

// Scan scan value into StringSlice, implements sql.Scanner interface
func (s *StringSlice) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	case nil:
		*s = StringSlice{}
		return nil
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal JSON array value:", val))
	}
	t := make([]string, 0)
	err := json.Unmarshal(ba, &t)
	*s = StringSlice(t)
	return err
}

// MarshalJSON always emits an array, never null
func (s StringSlice) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// GormDataType gorm common data type
func (StringSlice) GormDataType() string {
	return "stringslice"
}

// GormDBDataType gorm db data type
func (StringSlice) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
