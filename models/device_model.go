package models

// DeviceModel is a device-model slot. A slot with no MAC address bound is
// available for assignment to a newly seen device.
type DeviceModel struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string  `gorm:"column:nome;not null;size:255" json:"name"`
	MacAddress *string `gorm:"column:mac_address;size:64;index" json:"mac_address,omitempty"`
}

// TableName customizes the table name
func (DeviceModel) TableName() string {
	return "modelo"
}

// Available reports whether no MAC address is bound to the model
func (m DeviceModel) Available() bool {
	return m.MacAddress == nil || *m.MacAddress == ""
}

// Mac returns the bound MAC address or an empty string
func (m DeviceModel) Mac() string {
	if m.MacAddress == nil {
		return ""
	}
	return *m.MacAddress
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&DeviceModel{},
	}
}
