package models

// Status is the asset lifecycle state.
type Status string

const (
	StatusUnregistered  Status = "Unregistered"
	StatusAvailable     Status = "Available"
	StatusAssigned      Status = "Assigned"
	StatusInTransit     Status = "InTransit"
	StatusDeployed      Status = "Deployed"
	StatusInMaintenance Status = "InMaintenance"
	StatusOutOfService  Status = "OutOfService"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusUnregistered, StatusAvailable, StatusAssigned, StatusInTransit,
		StatusDeployed, StatusInMaintenance, StatusOutOfService:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Condition is the physical condition reported by inspections and
// maintenance.
type Condition string

const (
	ConditionNew         Condition = "New"
	ConditionGood        Condition = "Good"
	ConditionFair        Condition = "Fair"
	ConditionNeedsRepair Condition = "NeedsRepair"
	ConditionRetired     Condition = "Retired"
)

func (c Condition) IsValid() bool {
	switch c {
	case ConditionNew, ConditionGood, ConditionFair, ConditionNeedsRepair, ConditionRetired:
		return true
	}
	return false
}

// Type is the equipment category.
type Type string

const (
	TypeBallotBox     Type = "BallotBox"
	TypeScanner       Type = "Scanner"
	TypeVotingMachine Type = "VotingMachine"
	TypeSeal          Type = "Seal"
	TypePollbook      Type = "Pollbook"
	TypeOther         Type = "Other"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeBallotBox, TypeScanner, TypeVotingMachine, TypeSeal, TypePollbook, TypeOther:
		return true
	}
	return false
}
