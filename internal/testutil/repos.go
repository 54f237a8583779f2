// Package testutil provides in-memory stand-ins for the Postgres
// repositories, object storage and event bus.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jalsetu/apiserver/internal/store"
	"github.com/jalsetu/apiserver/types"
)

// Users is an in-memory account repository.
type Users struct {
	mu       sync.Mutex
	nextID   int
	accounts map[int]types.Account
}

func NewUsers() *Users {
	return &Users{nextID: 1, accounts: make(map[int]types.Account)}
}

// Add stores a verified account with the given role and returns it.
func (u *Users) Add(name string, role types.Role) types.Account {
	account, _ := u.Create(context.Background(), types.Account{
		User: types.User{
			Email:         strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
			EmailVerified: true,
		},
		Profile: types.Profile{FullName: name, Phone: "+910000000000", Role: role},
	})
	return account
}

func (u *Users) GetByID(_ context.Context, id int) (types.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	account, ok := u.accounts[id]
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	return account, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (types.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, account := range u.accounts {
		if account.Email == strings.ToLower(email) {
			return account, nil
		}
	}
	return types.Account{}, store.ErrNotFound
}

func (u *Users) ListByRole(_ context.Context, role types.Role) ([]types.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]types.Account, 0)
	for _, account := range u.accounts {
		if role == "" || account.Role() == role {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u *Users) Create(_ context.Context, account types.Account) (types.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	account.Email = strings.ToLower(account.Email)
	for _, existing := range u.accounts {
		if existing.Email == account.Email {
			return types.Account{}, store.ErrConflict
		}
	}
	now := time.Now()
	account.ID = u.nextID
	account.Profile.ID = account.ID
	account.CreatedAt = now
	account.UpdatedAt = now
	u.nextID++
	u.accounts[account.ID] = account
	return account, nil
}

func (u *Users) SetEmailVerified(_ context.Context, id int, verified bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	account, ok := u.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	account.EmailVerified = verified
	u.accounts[id] = account
	return nil
}

func (u *Users) UpdateProfile(_ context.Context, profile types.Profile) (types.Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	account, ok := u.accounts[profile.ID]
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	profile.Role = account.Profile.Role
	account.Profile = profile
	u.accounts[profile.ID] = account
	return profile, nil
}

// Sessions is an in-memory session repository.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]types.Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]types.Session)}
}

func (s *Sessions) Create(_ context.Context, session types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Token]; ok {
		return store.ErrConflict
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *Sessions) Get(_ context.Context, token string) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return types.Session{}, store.ErrNotFound
	}
	return session, nil
}

func (s *Sessions) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return store.ErrNotFound
	}
	delete(s.sessions, token)
	return nil
}

func (s *Sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// OTPs is an in-memory signup code repository.
type OTPs struct {
	mu   sync.Mutex
	otps map[string]types.SignupOTP
}

func NewOTPs() *OTPs {
	return &OTPs{otps: make(map[string]types.SignupOTP)}
}

func (o *OTPs) Upsert(_ context.Context, otp types.SignupOTP) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	otp.Email = strings.ToLower(otp.Email)
	otp.Attempts = 0
	o.otps[otp.Email] = otp
	return nil
}

func (o *OTPs) Get(_ context.Context, email string) (types.SignupOTP, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	otp, ok := o.otps[strings.ToLower(email)]
	if !ok {
		return types.SignupOTP{}, store.ErrNotFound
	}
	return otp, nil
}

func (o *OTPs) IncrementAttempts(_ context.Context, email string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	otp, ok := o.otps[strings.ToLower(email)]
	if !ok {
		return store.ErrNotFound
	}
	otp.Attempts++
	o.otps[otp.Email] = otp
	return nil
}

func (o *OTPs) Delete(_ context.Context, email string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.otps, strings.ToLower(email))
	return nil
}

// Reports is an in-memory report repository.
type Reports struct {
	mu      sync.Mutex
	nextID  int
	reports map[int]types.Report
}

func NewReports() *Reports {
	return &Reports{nextID: 1, reports: make(map[int]types.Report)}
}

func (r *Reports) List(_ context.Context, filter types.ReportFilter, offset, limit int) ([]types.Report, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]types.Report, 0)
	for _, report := range r.reports {
		if filter.UserID > 0 && report.UserID != filter.UserID {
			continue
		}
		if filter.TechnicianID > 0 && (report.AssignedTechnicianID == nil || *report.AssignedTechnicianID != filter.TechnicianID) {
			continue
		}
		if filter.Status != "" && report.Status != filter.Status {
			continue
		}
		matched = append(matched, report)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []types.Report{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *Reports) Get(_ context.Context, id int) (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return types.Report{}, store.ErrNotFound
	}
	return report, nil
}

func (r *Reports) Create(_ context.Context, report types.Report) (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	report.ID = r.nextID
	report.CreatedAt = now
	report.UpdatedAt = now
	r.nextID++
	r.reports[report.ID] = report
	return report, nil
}

func (r *Reports) Update(_ context.Context, report types.Report) (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[report.ID]; !ok {
		return types.Report{}, store.ErrNotFound
	}
	report.UpdatedAt = time.Now()
	r.reports[report.ID] = report
	return report, nil
}

func (r *Reports) Delete(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.reports, id)
	return nil
}

// Schedules is an in-memory schedule repository. Like the Postgres one,
// Update never clears actual_close_time.
type Schedules struct {
	mu        sync.Mutex
	nextID    int
	schedules map[int]types.Schedule
}

func NewSchedules() *Schedules {
	return &Schedules{nextID: 1, schedules: make(map[int]types.Schedule)}
}

func (s *Schedules) sorted(keep func(types.Schedule) bool) []types.Schedule {
	out := make([]types.Schedule, 0)
	for _, schedule := range s.schedules {
		if keep(schedule) {
			out = append(out, schedule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Schedules) List(_ context.Context, filter types.ScheduleFilter) ([]types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(schedule types.Schedule) bool {
		if filter.ControllerID > 0 && schedule.ControllerID != filter.ControllerID {
			return false
		}
		if filter.UserID > 0 && (schedule.UserID == nil || *schedule.UserID != filter.UserID) {
			return false
		}
		return !filter.ActiveOnly || schedule.IsActive
	}), nil
}

func (s *Schedules) Get(_ context.Context, id int) (types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return types.Schedule{}, store.ErrNotFound
	}
	return schedule, nil
}

func (s *Schedules) Create(_ context.Context, schedule types.Schedule) (types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	schedule.ID = s.nextID
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	s.nextID++
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

func (s *Schedules) Update(_ context.Context, schedule types.Schedule) (types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.schedules[schedule.ID]
	if !ok {
		return types.Schedule{}, store.ErrNotFound
	}
	if current.ActualCloseTime != nil {
		schedule.ActualCloseTime = current.ActualCloseTime
	}
	schedule.UpdatedAt = time.Now()
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

func (s *Schedules) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *Schedules) DueToOpen(_ context.Context, now time.Time) ([]types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(schedule types.Schedule) bool {
		return !schedule.ScheduledOpenTime.After(now) &&
			schedule.ScheduledCloseTime.After(now) &&
			schedule.ActualOpenTime == nil &&
			schedule.ActualCloseTime == nil &&
			!schedule.Interrupted
	}), nil
}

func (s *Schedules) DueToClose(_ context.Context, now time.Time) ([]types.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(schedule types.Schedule) bool {
		return !schedule.ScheduledCloseTime.After(now) &&
			schedule.ActualOpenTime != nil &&
			schedule.ActualCloseTime == nil
	}), nil
}
