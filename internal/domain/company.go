package domain

import "time"

// MemberRole is the role a user holds inside a company.
type MemberRole string

const (
	RoleIndividualClient      MemberRole = "IND_CLIENT"
	RoleCorporateClient       MemberRole = "CORPORATE_CLIENT"
	RoleIndividualInterpreter MemberRole = "IND_INTERPRETER"
	RoleCorporateInterpreter  MemberRole = "CORPORATE_INTERPRETER"
	RoleCorporateAdmin        MemberRole = "CORPORATE_ADMIN"
)

// InterpreterRoles lists the roles that count as interpreters when deciding
// whether a company can staff its own bookings.
var InterpreterRoles = []MemberRole{RoleIndividualInterpreter, RoleCorporateInterpreter}

// MemberStatus is the membership state of a company member.
type MemberStatus string

const (
	MemberActive      MemberStatus = "ACTIVE"
	MemberInvited     MemberStatus = "INVITED"
	MemberDeactivated MemberStatus = "DEACTIVATED"
)

// Company is an operating company. Clients book through it and it may employ
// its own interpreters.
type Company struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Company.
func (Company) TableName() string { return "companies" }

// CompanyMember links a user to a company with a role.
type CompanyMember struct {
	ID        string       `json:"id"         gorm:"type:char(36);primaryKey"`
	CompanyID string       `json:"company_id" gorm:"type:char(36);not null;index:idx_company_members,priority:1"`
	UserID    string       `json:"user_id"    gorm:"type:char(36);not null"`
	Role      MemberRole   `json:"role"       gorm:"type:varchar(32);not null;index:idx_company_members,priority:2"`
	Status    MemberStatus `json:"status"     gorm:"type:varchar(16);not null"`
	CreatedAt time.Time    `json:"created_at"`

	Company Company `json:"-" gorm:"foreignKey:CompanyID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for CompanyMember.
func (CompanyMember) TableName() string { return "company_members" }

// Client is the booking party as seen by the order lifecycle: the client
// user role together with its operating company and tax status.
type Client struct {
	ID                 string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	UserID             string     `json:"user_id"              gorm:"type:char(36);not null;index"`
	OperatingCompanyID string     `json:"operating_company_id" gorm:"type:char(36);not null;index"`
	Role               MemberRole `json:"role"                 gorm:"type:varchar(32);not null"`
	IsGstPayer         bool       `json:"is_gst_payer"         gorm:"not null;default:false"`
	CreatedAt          time.Time  `json:"created_at"`
}

// TableName returns the database table name for Client.
func (Client) TableName() string { return "clients" }
