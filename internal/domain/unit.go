package domain

// UnitStatus 单元占用状态
type UnitStatus string

const (
	UnitVacant      UnitStatus = "vacant"
	UnitOccupied    UnitStatus = "occupied"
	UnitMaintenance UnitStatus = "maintenance"
)

// Unit 单元（对应 units 表，附带 property 归属）
type Unit struct {
	UnitID     string     `db:"id"`
	PropertyID string     `db:"property_id"`
	LandlordID string     `db:"landlord_id"` // properties.landlord_id
	UnitNumber string     `db:"unit_number"`
	RentAmount float64    `db:"rent_amount"`
	Status     UnitStatus `db:"status"`
}
