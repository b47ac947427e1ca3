package engine

import (
	"context"
	"strings"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/events"
)

// RawRow is one spreadsheet row keyed by column header.
type RawRow map[string]string

// RowError explains why a row was skipped. Row is 1-based.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type RequestImportReport struct {
	Created []domain.ServiceRequest `json:"created"`
	Skipped []RowError              `json:"skipped"`
}

type TaskImportReport struct {
	Created         []domain.Task `json:"created"`
	ProjectsCreated []string      `json:"projectsCreated"`
	Skipped         []RowError    `json:"skipped"`
}

// Header aliases accepted for each field, English and Arabic.
var requestColumns = map[string][]string{
	"type":                {"type", "النوع", "نوع الطلب"},
	"projectName":         {"projectname", "project", "المشروع", "اسم المشروع"},
	"details":             {"details", "notes", "الوصف والملاحظات", "التفاصيل", "ملاحظات"},
	"serviceSubType":      {"servicesubtype", "service", "نوع الخدمة"},
	"otherServiceDetails": {"otherservicedetails", "تفاصيل أخرى"},
	"authority":           {"authority", "جهة المراجعة"},
	"clientName":          {"clientname", "client", "اسم العميل"},
	"idNumber":            {"idnumber", "رقم الهوية"},
	"plotNumber":          {"plotnumber", "رقم القطعة"},
	"deedNumber":          {"deednumber", "رقم الصك"},
	"mobileNumber":        {"mobilenumber", "mobile", "رقم الجوال"},
	"bank":                {"bank", "البنك"},
	"propertyValue":       {"propertyvalue", "قيمة العقار"},
}

var taskColumns = map[string][]string{
	"project":     {"project", "المشروع"},
	"description": {"description", "بيان الأعمال"},
	"reviewer":    {"reviewer", "جهة المراجعة"},
	"requester":   {"requester", "الجهة طالبة الخدمة"},
	"notes":       {"notes", "الوصف والملاحظات"},
	"location":    {"location", "الموقع"},
	"status":      {"status", "الحالة"},
	"date":        {"date", "تاريخ المتابعة"},
}

// normalize folds the row onto canonical field names using aliases.
func (r RawRow) normalize(columns map[string][]string) (map[string]string, bool) {
	byHeader := map[string]string{}
	for k, v := range r {
		byHeader[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	out := map[string]string{}
	empty := true
	for field, aliases := range columns {
		for _, a := range aliases {
			if v, ok := byHeader[a]; ok && v != "" && v != "-" {
				out[field] = v
				empty = false
				break
			}
		}
	}
	return out, empty
}

func parseRequestType(v string) domain.RequestType {
	switch strings.ToLower(v) {
	case "conveyance", "إفراغ", "افراغ":
		return domain.RequestConveyance
	case "technical", "فني", "خدمة فنية":
		return domain.RequestTechnical
	}
	return domain.RequestType(v)
}

// BulkImportRequests submits every row through the CreateRequest rules.
// Empty or invalid rows are reported in Skipped and never abort the batch.
func (e *Engine) BulkImportRequests(ctx context.Context, actor domain.User, rows []RawRow) (RequestImportReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return RequestImportReport{}, err
	}
	if len(caps.SubmitTypes) == 0 {
		return RequestImportReport{}, forbid(actor, "import requests")
	}
	report := RequestImportReport{Created: []domain.ServiceRequest{}, Skipped: []RowError{}}
	var created []domain.ServiceRequest
	for n, row := range rows {
		f, empty := row.normalize(requestColumns)
		if empty {
			report.Skipped = append(report.Skipped, RowError{Row: n + 1, Reason: "empty row"})
			continue
		}
		d := RequestDraft{
			Type:                parseRequestType(f["type"]),
			ProjectName:         f["projectName"],
			Details:             f["details"],
			ServiceSubType:      f["serviceSubType"],
			OtherServiceDetails: f["otherServiceDetails"],
			Authority:           f["authority"],
			ClientName:          f["clientName"],
			IDNumber:            f["idNumber"],
			PlotNumber:          f["plotNumber"],
			DeedNumber:          f["deedNumber"],
			MobileNumber:        f["mobileNumber"],
			Bank:                f["bank"],
			PropertyValue:       f["propertyValue"],
		}
		if d.Type == "" && d.ClientName != "" {
			d.Type = domain.RequestConveyance
		}
		r, err := e.draftRequest(actor, caps, d)
		if err != nil {
			e.Log.Debug("import row skipped", "row", n+1, "err", err)
			report.Skipped = append(report.Skipped, RowError{Row: n + 1, Reason: err.Error()})
			continue
		}
		created = append(created, r)
		report.Created = append(report.Created, r.Clone())
	}
	if len(created) == 0 {
		return report, nil
	}
	// newest first, matching single submissions
	for i, j := 0, len(created)-1; i < j; i, j = i+1, j-1 {
		created[i], created[j] = created[j], created[i]
	}
	e.requests = append(created, e.requests...)
	e.persist(ctx, events.Action{Type: "request.imported", EntityKind: "request", ActorID: actor.Email,
		Payload: events.EventPayload{"created": len(created), "skipped": len(report.Skipped)}}, KeyRequests)
	e.Log.Info("requests imported", "created", len(created), "skipped", len(report.Skipped))
	return report, nil
}

// ImportTasks loads a task sheet, grouping rows by project. Missing projects
// are created with the location of their first row.
func (e *Engine) ImportTasks(ctx context.Context, actor domain.User, rows []RawRow) (TaskImportReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	actor, caps, err := e.actor(actor)
	if err != nil {
		return TaskImportReport{}, err
	}
	if !caps.ManageProjects {
		return TaskImportReport{}, forbid(actor, "import tasks")
	}
	report := TaskImportReport{Created: []domain.Task{}, ProjectsCreated: []string{}, Skipped: []RowError{}}
	for n, row := range rows {
		f, empty := row.normalize(taskColumns)
		if empty {
			report.Skipped = append(report.Skipped, RowError{Row: n + 1, Reason: "empty row"})
			continue
		}
		pi := e.projectIndex(f["project"])
		var target domain.Project
		if pi >= 0 {
			target = e.projects[pi]
		} else {
			p, err := e.newProject(NewProject{Name: f["project"], Location: f["location"]})
			if err != nil {
				report.Skipped = append(report.Skipped, RowError{Row: n + 1, Reason: err.Error()})
				continue
			}
			target = p
		}
		status := domain.TaskInProgress
		if f["status"] == domain.TaskDone || strings.EqualFold(f["status"], "done") {
			status = domain.TaskDone
		}
		t, err := e.draftTask(target, actor, TaskDraft{
			Description: f["description"],
			Reviewer:    f["reviewer"],
			Requester:   f["requester"],
			Notes:       f["notes"],
			Location:    f["location"],
			Status:      status,
			Date:        f["date"],
		})
		if err != nil {
			report.Skipped = append(report.Skipped, RowError{Row: n + 1, Reason: err.Error()})
			continue
		}
		if pi < 0 {
			e.projects = append(e.projects, target)
			pi = len(e.projects) - 1
			report.ProjectsCreated = append(report.ProjectsCreated, target.Name)
		}
		p := &e.projects[pi]
		p.Tasks = append(p.Tasks, t)
		p.Recompute()
		report.Created = append(report.Created, t)
	}
	if len(report.Created) > 0 || len(report.ProjectsCreated) > 0 {
		e.persist(ctx, events.Action{Type: "task.imported", EntityKind: "task", ActorID: actor.Email,
			Payload: events.EventPayload{"created": len(report.Created), "projects": len(report.ProjectsCreated)}}, KeyProjects)
	}
	return report, nil
}
