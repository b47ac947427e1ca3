package domain

import "math"

// Progress is the rounded completion percentage, or 0 for an empty project.
func Progress(total, completed int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Recompute refreshes the derived counters from the task list.
func (p *Project) Recompute() {
	completed := 0
	for _, t := range p.Tasks {
		if t.Done() {
			completed++
		}
	}
	p.TotalTasks = len(p.Tasks)
	p.CompletedTasks = completed
	p.Progress = Progress(p.TotalTasks, completed)
}

// TaskIndex returns the position of task id, or -1.
func (p Project) TaskIndex(id string) int {
	for i, t := range p.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no slices with p.
func (p Project) Clone() Project {
	out := p
	out.Tasks = make([]Task, len(p.Tasks))
	for i, t := range p.Tasks {
		out.Tasks[i] = t.Clone()
	}
	if p.Details != nil {
		d := *p.Details
		out.Details = &d
	}
	return out
}

func (t Task) Clone() Task {
	out := t
	if t.Comments != nil {
		out.Comments = append([]Comment(nil), t.Comments...)
	}
	return out
}

func (r ServiceRequest) Clone() ServiceRequest {
	out := r
	out.History = append([]HistoryEntry(nil), r.History...)
	if r.Comments != nil {
		out.Comments = append([]Comment(nil), r.Comments...)
	}
	return out
}

// Public strips credentials from a user record.
func (u User) Public() User {
	u.PasswordHash = ""
	u.Password = ""
	return u
}
