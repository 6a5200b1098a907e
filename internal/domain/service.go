package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"

	"example.com/retirement/internal/pension"
	"example.com/retirement/internal/timeline"
)

// Recorder receives timeline metrics. The observability package provides the
// Prometheus implementation.
type Recorder interface {
	TimelineMutation(action string, success bool)
	PensionEstimated(amount float64)
}

type nopRecorder struct{}

func (nopRecorder) TimelineMutation(string, bool) {}
func (nopRecorder) PensionEstimated(float64)      {}

// Option customises the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger log.Interface) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for birth years and valorisation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRecorder wires a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLabelStep sets the axis label spacing of built views.
func WithLabelStep(step int) Option {
	return func(s *Service) {
		if step > 0 {
			s.labelStep = step
		}
	}
}

// WithEditorOptions passes options to every editor the service creates.
func WithEditorOptions(opts ...timeline.Option) Option {
	return func(s *Service) {
		s.editorOpts = append(s.editorOpts, opts...)
	}
}

type session struct {
	mu     sync.Mutex
	editor *timeline.Editor
	// dragOrigin is the state before the current marker drag began.
	dragOrigin *timeline.State
	lastUsed   time.Time
	// evicted sessions are no longer in Service.sessions; holders retry.
	evicted bool

	// ready is closed once the opener has set editor or err.
	ready chan struct{}
	err   error
}

// Service orchestrates timeline sessions. It keeps one editor per owner and
// serialises events for that owner, so they are applied in dispatch order.
type Service struct {
	repo       TimelineRepository
	settings   timeline.Settings
	labelStep  int
	editorOpts []timeline.Option
	logger     log.Interface
	recorder   Recorder
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService constructs a Service.
func NewService(repo TimelineRepository, settings timeline.Settings, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		settings:  settings,
		labelStep: 10,
		logger:    log.Log,
		recorder:  nopRecorder{},
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the grid settings sessions are created with.
func (s *Service) Settings() timeline.Settings {
	return s.settings
}

func (s *Service) currentYear() int {
	return s.now().Year()
}

// withSession runs fn while holding the owner's session lock, opening the
// session first when needed.
func (s *Service) withSession(ctx context.Context, owner Owner, fn func(*timeline.Editor) error) error {
	return s.withLockedSession(ctx, owner, func(sess *session) error {
		return fn(sess.editor)
	})
}

func (s *Service) withLockedSession(ctx context.Context, owner Owner, fn func(*session) error) error {
	for {
		sess, err := s.session(ctx, owner)
		if err != nil {
			return err
		}
		sess.mu.Lock()
		if sess.evicted {
			sess.mu.Unlock()
			continue
		}
		sess.lastUsed = s.now()
		err = fn(sess)
		sess.mu.Unlock()
		return err
	}
}

// session returns the owner's cached session. Only the first caller loads it
// from the repository, outside s.mu; concurrent callers for the same owner
// wait for that load.
func (s *Service) session(ctx context.Context, owner Owner) (*session, error) {
	key := owner.key()

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if !ok {
		sess = &session{ready: make(chan struct{})}
		s.sessions[key] = sess
	}
	s.mu.Unlock()

	if ok {
		select {
		case <-sess.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if sess.err != nil {
			return nil, sess.err
		}
		return sess, nil
	}

	editor, err := s.open(ctx, owner)
	if err != nil {
		s.mu.Lock()
		if s.sessions[key] == sess {
			delete(s.sessions, key)
		}
		s.mu.Unlock()
		sess.err = err
		close(sess.ready)
		return nil, err
	}
	sess.editor = editor
	sess.lastUsed = s.now()
	close(sess.ready)
	return sess, nil
}

func (s *Service) open(ctx context.Context, owner Owner) (*timeline.Editor, error) {
	editor := timeline.NewEditor(s.settings, timeline.DefaultProfile(s.currentYear()), s.editorOpts...)

	stored, err := s.repo.Load(ctx, owner)
	switch {
	case errors.Is(err, ErrTimelineNotFound):
		if err := s.repo.SaveProfile(ctx, owner, editor.Profile()); err != nil {
			return nil, fmt.Errorf("%w: seed profile: %v", ErrPersistence, err)
		}
		s.logger.WithFields(log.Fields{"tenant_id": owner.TenantID, "user_id": owner.UserID}).Info("seeded timeline")
		return editor, nil
	case err != nil:
		return nil, fmt.Errorf("%w: load timeline: %v", ErrPersistence, err)
	}

	editor.Restore(timeline.State{
		Profile:    stored.Profile,
		Activities: stored.Activities,
		Mode:       timeline.ModeAge,
	})
	return editor, nil
}

// Open loads the owner's timeline into a session and returns its view.
func (s *Service) Open(ctx context.Context, owner Owner) (timeline.View, error) {
	return s.View(ctx, owner)
}

// Close drops the owner's in-memory session. The next call reloads it.
func (s *Service) Close(owner Owner) {
	s.mu.Lock()
	sess, ok := s.sessions[owner.key()]
	if ok {
		delete(s.sessions, owner.key())
	}
	s.mu.Unlock()
	if ok {
		sess.mu.Lock()
		sess.evicted = true
		sess.mu.Unlock()
	}
}

// EvictIdle drops sessions unused for longer than maxIdle and returns how
// many were dropped. Sessions that are busy or still loading are kept. An open
// prompt or unfinished drag of an evicted session is lost; stored activities
// and profile are reloaded on the next call.
func (s *Service) EvictIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, sess := range s.sessions {
		select {
		case <-sess.ready:
		default:
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		if sess.lastUsed.Before(cutoff) {
			sess.evicted = true
			delete(s.sessions, key)
			evicted++
		}
		sess.mu.Unlock()
	}
	return evicted
}

// Sessions reports how many owner sessions are cached.
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RunEviction calls EvictIdle every interval until ctx is cancelled. A
// non-positive interval or maxIdle disables eviction.
func (s *Service) RunEviction(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(maxIdle); n > 0 {
				s.logger.WithFields(log.Fields{"evicted": n, "remaining": s.Sessions()}).Debug("evicted idle sessions")
			}
		}
	}
}

// View returns the view model of the owner's timeline.
func (s *Service) View(ctx context.Context, owner Owner) (timeline.View, error) {
	var view timeline.View
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		view = s.build(e)
		return nil
	})
	return view, err
}

// Payload returns the owner's timeline as the embedded payload document.
func (s *Service) Payload(ctx context.Context, owner Owner) (timeline.Payload, error) {
	var payload timeline.Payload
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		payload = timeline.ToPayload(e.Snapshot())
		return nil
	})
	return payload, err
}

func (s *Service) build(e *timeline.Editor) timeline.View {
	return timeline.BuildView(e.Snapshot(), s.settings, s.labelStep)
}

// Pointer feeds a pointer event into the drag state machine. Releasing a
// marker persists the moved profile value.
func (s *Service) Pointer(ctx context.Context, owner Owner, ev PointerEvent) (timeline.View, error) {
	var view timeline.View
	err := s.withLockedSession(ctx, owner, func(sess *session) error {
		e := sess.editor
		age := ev.age(s.settings)
		dragging := e.Snapshot().Dragging != ""
		switch ev.Type {
		case PointerPress:
			switch ev.Target {
			case TargetGrid, "":
				e.BeginSelection(age)
			case TargetMarker:
				origin := e.Snapshot()
				if e.BeginMarkerDrag(timeline.Marker(ev.Marker)) {
					sess.dragOrigin = &origin
				}
			default:
				return fmt.Errorf("%w: target %q", ErrInvalidPointerEvent, ev.Target)
			}
		case PointerMove:
			if dragging {
				e.MoveMarker(age)
			} else {
				e.ExtendSelection(age)
			}
		case PointerRelease:
			if dragging {
				if err := s.releaseMarker(ctx, owner, sess); err != nil {
					return err
				}
			} else {
				e.CommitSelection()
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidPointerEvent, ev.Type)
		}
		view = s.build(e)
		return nil
	})
	return view, err
}

func (s *Service) releaseMarker(ctx context.Context, owner Owner, sess *session) error {
	e := sess.editor
	origin := sess.dragOrigin
	sess.dragOrigin = nil
	marker, age, _ := e.EndMarkerDrag()
	if err := s.repo.SaveProfile(ctx, owner, e.Profile()); err != nil {
		if origin != nil {
			e.Restore(*origin)
		}
		s.recorder.TimelineMutation("marker", false)
		s.logger.WithError(err).WithField("marker", string(marker)).Error("persist marker move")
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.recorder.TimelineMutation("marker", true)
	s.logger.WithFields(log.Fields{"user_id": owner.UserID, "marker": string(marker), "age": age}).Debug("marker moved")
	return nil
}

// CancelPrompt dismisses the open kind prompt.
func (s *Service) CancelPrompt(ctx context.Context, owner Owner) (timeline.View, error) {
	var view timeline.View
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		e.CancelPrompt()
		view = s.build(e)
		return nil
	})
	return view, err
}

// ToggleDisplayMode flips the axis labels between ages and years.
func (s *Service) ToggleDisplayMode(ctx context.Context, owner Owner) (timeline.View, error) {
	var view timeline.View
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		e.ToggleDisplayMode()
		view = s.build(e)
		return nil
	})
	return view, err
}

// Apply executes an action-keyed work-period command. Validation and domain
// failures are reported in the result as well as in the returned error; a
// persistence failure rolls the session back to its state before the command.
func (s *Service) Apply(ctx context.Context, owner Owner, cmd WorkPeriodCommand) (WorkPeriodResult, error) {
	var result WorkPeriodResult
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		snapshot := e.Snapshot()
		activity, err := s.apply(ctx, owner, e, cmd)
		if err != nil {
			if errors.Is(err, ErrPersistence) {
				e.Restore(snapshot)
			}
			result.Summary = e.RecomputePensionSummary()
			return err
		}
		result.Success = true
		result.Activity = toPayloadActivity(activity)
		result.Summary = e.RecomputePensionSummary()
		s.recorder.PensionEstimated(result.Summary.EstimatedPension)
		return nil
	})

	s.recorder.TimelineMutation(cmd.Action, err == nil)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		entry := s.logger.WithFields(log.Fields{"action": cmd.Action, "user_id": owner.UserID}).WithError(err)
		if errors.Is(err, ErrPersistence) {
			entry.Error("work period not saved")
		} else {
			entry.Debug("work period rejected")
		}
	}
	return result, err
}

func (s *Service) apply(ctx context.Context, owner Owner, e *timeline.Editor, cmd WorkPeriodCommand) (timeline.Activity, error) {
	switch cmd.Action {
	case ActionCreate:
		return s.create(ctx, owner, e, cmd)
	case ActionUpdate:
		kind, err := cmd.kind()
		if err != nil {
			return timeline.Activity{}, err
		}
		contract, err := cmd.contract()
		if err != nil {
			return timeline.Activity{}, err
		}
		activity, err := e.EditActivity(cmd.ID, kind, contract, cmd.Salary)
		if err != nil {
			return timeline.Activity{}, err
		}
		if err := s.repo.UpdateActivity(ctx, owner, activity); err != nil {
			return timeline.Activity{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return activity, nil
	case ActionDelete:
		activity, err := e.DeleteActivity(cmd.ID, cmd.Confirmed)
		if err != nil {
			return timeline.Activity{}, err
		}
		if err := s.repo.DeleteActivity(ctx, owner, activity.ID); err != nil {
			return timeline.Activity{}, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return activity, nil
	}
	return timeline.Activity{}, fmt.Errorf("%w: %q", ErrInvalidAction, cmd.Action)
}

func (s *Service) create(ctx context.Context, owner Owner, e *timeline.Editor, cmd WorkPeriodCommand) (timeline.Activity, error) {
	activity, err := place(e, cmd)
	if err != nil {
		return timeline.Activity{}, err
	}
	if err := s.repo.InsertActivity(ctx, owner, activity); err != nil {
		return timeline.Activity{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return activity, nil
}

// place answers the open prompt when the command carries no ages, otherwise
// it stores the explicit range.
func place(e *timeline.Editor, cmd WorkPeriodCommand) (timeline.Activity, error) {
	if cmd.StartAge == nil && cmd.EndAge == nil {
		kind, err := cmd.kind()
		if err != nil {
			return timeline.Activity{}, err
		}
		contract, err := cmd.contract()
		if err != nil {
			return timeline.Activity{}, err
		}
		return e.ChooseKind(kind, contract, cmd.Salary)
	}
	if cmd.StartAge == nil || cmd.EndAge == nil {
		return timeline.Activity{}, fmt.Errorf("%w: both start_age and end_age are required", timeline.ErrRangeOutOfBounds)
	}
	detail, err := cmd.detail()
	if err != nil {
		return timeline.Activity{}, err
	}
	return e.AddActivity(*cmd.StartAge, *cmd.EndAge, detail)
}

// UpdateProfile changes the owner's current age and gender.
func (s *Service) UpdateProfile(ctx context.Context, owner Owner, currentAge int, gender string) (timeline.Profile, error) {
	g, err := pension.ParseGender(gender)
	if err != nil {
		return timeline.Profile{}, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	var profile timeline.Profile
	err = s.withSession(ctx, owner, func(e *timeline.Editor) error {
		snapshot := e.Snapshot()
		if err := e.UpdateProfile(currentAge, g, s.currentYear()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		if err := s.repo.SaveProfile(ctx, owner, e.Profile()); err != nil {
			e.Restore(snapshot)
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		profile = e.Profile()
		return nil
	})
	s.recorder.TimelineMutation("profile", err == nil)
	return profile, err
}

// UpdateRetirement moves the planned retirement age.
func (s *Service) UpdateRetirement(ctx context.Context, owner Owner, age int) (timeline.Profile, error) {
	var profile timeline.Profile
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		snapshot := e.Snapshot()
		if err := e.SetPlannedRetirement(age); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		if err := s.repo.SaveProfile(ctx, owner, e.Profile()); err != nil {
			e.Restore(snapshot)
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		profile = e.Profile()
		return nil
	})
	s.recorder.TimelineMutation("retirement", err == nil)
	return profile, err
}

// Summary returns the quick pension estimate of the owner's timeline.
func (s *Service) Summary(ctx context.Context, owner Owner) (pension.Summary, error) {
	var summary pension.Summary
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		summary = e.RecomputePensionSummary()
		return nil
	})
	return summary, err
}

// Forecast runs the full calculator over the owner's current session.
func (s *Service) Forecast(ctx context.Context, owner Owner) (pension.Forecast, error) {
	var forecast pension.Forecast
	err := s.withSession(ctx, owner, func(e *timeline.Editor) error {
		state := e.Snapshot()
		forecast = ComputeForecast(Timeline{Owner: owner, Profile: state.Profile, Activities: state.Activities}, s.currentYear())
		return nil
	})
	return forecast, err
}

// History lists forecasts stored by the projector, newest first. The page
// size defaults to 20 and is capped at 100.
func (s *Service) History(ctx context.Context, owner Owner, cursor *Cursor, limit int) ([]StoredForecast, *Cursor, error) {
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return s.repo.ListForecasts(ctx, owner, cursor, limit)
}
