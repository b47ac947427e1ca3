package domain

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RolePRManager  Role = "PR_MANAGER"
	RolePROfficer  Role = "PR_OFFICER"
	RoleFinance    Role = "FINANCE"
	RoleTechnical  Role = "TECHNICAL"
	RoleConveyance Role = "CONVEYANCE"
)

// Roles lists every role in display order.
var Roles = []Role{RoleAdmin, RolePRManager, RolePROfficer, RoleFinance, RoleTechnical, RoleConveyance}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts the canonical upper-case role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ValidationError{Field: "role", Reason: "unknown role " + s}
	}
	return r, nil
}

// User is a console account. Password holds a legacy plaintext secret that is
// upgraded to PasswordHash on first successful login.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"ADMIN,PR_MANAGER,PR_OFFICER,FINANCE,TECHNICAL,CONVEYANCE"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Password     string `json:"password,omitempty"`
}

type Comment struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Author     string `json:"author"`
	AuthorRole Role   `json:"authorRole,omitempty"`
	Timestamp  string `json:"timestamp" format:"date-time"`
}

const (
	TaskInProgress = "متابعة"
	TaskDone       = "منجز"
)

type Task struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	Description string    `json:"description"`
	Reviewer    string    `json:"reviewer"`
	Requester   string    `json:"requester"`
	Notes       string    `json:"notes"`
	Location    string    `json:"location"`
	Status      string    `json:"status"`
	Date        string    `json:"date" format:"date"`
	Comments    []Comment `json:"comments,omitempty"`
}

func (t Task) Done() bool { return t.Status == TaskDone }

type Contact struct {
	CompanyName   string `json:"companyName,omitempty"`
	ContactNumber string `json:"contactNumber,omitempty"`
	EmployeeName  string `json:"employeeName,omitempty"`
}

type ProjectDetails struct {
	UnitsCount                 int     `json:"unitsCount,omitempty"`
	BuildingPermitsCount       int     `json:"buildingPermitsCount,omitempty"`
	SurveyDecisionsCount       int     `json:"surveyDecisionsCount,omitempty"`
	OccupancyCertificatesCount int     `json:"occupancyCertificatesCount,omitempty"`
	WaterMetersCount           int     `json:"waterMetersCount,omitempty"`
	ElectricityMetersCount     int     `json:"electricityMetersCount,omitempty"`
	Consultant                 Contact `json:"consultant,omitempty"`
	ElectricityContractor      Contact `json:"electricityContractor,omitempty"`
	WaterContractor            Contact `json:"waterContractor,omitempty"`
}

// Project is identified by Name. TotalTasks, CompletedTasks and Progress are
// derived from Tasks and must only be written by Recompute.
type Project struct {
	Name           string          `json:"name"`
	Location       string          `json:"location"`
	Tasks          []Task          `json:"tasks"`
	TotalTasks     int             `json:"totalTasks"`
	CompletedTasks int             `json:"completedTasks"`
	Progress       int             `json:"progress" minimum:"0" maximum:"100"`
	IsPinned       bool            `json:"isPinned"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	Details        *ProjectDetails `json:"details,omitempty"`
}

type RequestType string

const (
	RequestTechnical  RequestType = "technical"
	RequestConveyance RequestType = "conveyance"
)

func (t RequestType) Valid() bool {
	return t == RequestTechnical || t == RequestConveyance
}

type RequestStatus string

const (
	StatusNew            RequestStatus = "new"
	StatusPendingFinance RequestStatus = "pending_finance"
	StatusPendingPR      RequestStatus = "pending_pr"
	StatusRevision       RequestStatus = "revision"
	StatusCompleted      RequestStatus = "completed"
	StatusRejected       RequestStatus = "rejected"
)

// Statuses lists every live request status.
var Statuses = []RequestStatus{StatusNew, StatusPendingFinance, StatusPendingPR, StatusRevision, StatusCompleted, StatusRejected}

func (s RequestStatus) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// NormalizeStatus maps statuses written by earlier releases onto live ones.
func NormalizeStatus(s RequestStatus) RequestStatus {
	switch s {
	case "returned_to_user", "returned_for_edit":
		return StatusRevision
	case "pending_manager", "pending_officer":
		return StatusPendingPR
	}
	return s
}

const (
	ActionCreated = "إنشاء الطلب"
)

// StatusAction is the history label recorded when a request moves to s.
func StatusAction(s RequestStatus) string {
	return "تغيير الحالة إلى " + string(s)
}

type HistoryEntry struct {
	Action    string `json:"action"`
	By        string `json:"by"`
	Role      Role   `json:"role"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Notes     string `json:"notes,omitempty"`
}

type ServiceRequest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        RequestType    `json:"type" enum:"technical,conveyance"`
	ProjectName string         `json:"projectName"`
	Details     string         `json:"details,omitempty"`
	SubmittedBy string         `json:"submittedBy"`
	// SubmitterID is empty on records written before ids were kept.
	SubmitterID string         `json:"submitterId,omitempty"`
	Role        Role           `json:"role"`
	Status      RequestStatus  `json:"status" enum:"new,pending_finance,pending_pr,revision,completed,rejected"`
	Date        string         `json:"date" format:"date"`
	History     []HistoryEntry `json:"history"`
	Comments    []Comment      `json:"comments,omitempty"`

	RejectionReason string `json:"rejectionReason,omitempty"`
	FinanceNotes    string `json:"financeNotes,omitempty"`

	ServiceSubType      string `json:"serviceSubType,omitempty"`
	OtherServiceDetails string `json:"otherServiceDetails,omitempty"`
	Authority           string `json:"authority,omitempty"`

	ClientName    string `json:"clientName,omitempty"`
	IDNumber      string `json:"idNumber,omitempty"`
	PlotNumber    string `json:"plotNumber,omitempty"`
	DeedNumber    string `json:"deedNumber,omitempty"`
	MobileNumber  string `json:"mobileNumber,omitempty"`
	Bank          string `json:"bank,omitempty"`
	PropertyValue string `json:"propertyValue,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Collection string `json:"collection"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
