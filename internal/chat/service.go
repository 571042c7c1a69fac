package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/suPer8Hu/chatstream/internal/ai"
	"github.com/suPer8Hu/chatstream/internal/common"
	"github.com/suPer8Hu/chatstream/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxConversationIDLen = 191

type Options struct {
	Provider string
	Model    string
	// ContextWindowSize > 0 sends that many recent messages upstream;
	// 0 sends only the new prompt.
	ContextWindowSize int
}

type Service struct {
	gw       *db.Gateway
	repo     *Repo
	registry *ai.Registry
	opts     Options
	log      *zap.Logger
}

func NewService(gw *db.Gateway, registry *ai.Registry, opts Options, log *zap.Logger) *Service {
	if opts.ContextWindowSize < 0 {
		opts.ContextWindowSize = 0
	}
	if opts.ContextWindowSize > 100 {
		opts.ContextWindowSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		gw:       gw,
		repo:     NewRepo(gw.DB(context.Background())),
		registry: registry,
		opts:     opts,
		log:      log,
	}
}

// Provider resolves the configured upstream.
func (s *Service) Provider(ctx context.Context) (ai.Provider, error) {
	return s.registry.Get(ctx, s.opts.Provider, s.opts.Model)
}

// EnsureConversation returns the conversation with id convID, creating it for
// userID if it does not exist. Concurrent calls for the same id agree on one
// row. A conversation owned by someone else is reported as not found.
func (s *Service) EnsureConversation(ctx context.Context, userID, convID string) (*Conversation, error) {
	return ensureConversation(ctx, s.repo, userID, convID)
}

func ensureConversation(ctx context.Context, r *Repo, userID, convID string) (*Conversation, error) {
	if convID == "" || len(convID) > maxConversationIDLen {
		return nil, ErrInvalidConversation
	}

	c := &Conversation{
		ID:        convID,
		Title:     DefaultTitle,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.InsertConversationIfAbsent(ctx, c); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return r.GetOwnedConversation(ctx, userID, convID)
}

// AppendMessage records one message and commits it before returning. It is
// not idempotent.
func (s *Service) AppendMessage(ctx context.Context, convID, role, content string) (*Message, error) {
	return appendMessage(ctx, s.repo, convID, role, content)
}

func appendMessage(ctx context.Context, r *Repo, convID, role, content string) (*Message, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:             id.String(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := r.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.repo.ListConversations(ctx, userID)
}

// ListMessages returns the conversation's messages oldest first, or an empty
// list when userID does not own it.
func (s *Service) ListMessages(ctx context.Context, userID, convID string) ([]Message, error) {
	if _, err := s.repo.GetOwnedConversation(ctx, userID, convID); err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return []Message{}, nil
		}
		return nil, err
	}
	return s.repo.ListMessages(ctx, convID)
}

// Turn is a user message that has been committed and is ready to be answered.
type Turn struct {
	Conversation *Conversation
	UserMessage  *Message
	History      []ai.Message
}

// BeginTurn ensures the conversation, commits the user's prompt and collects
// the upstream input, all on one connection that is released before return.
func (s *Service) BeginTurn(ctx context.Context, userID, convID, prompt string) (*Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	var turn Turn
	err := s.gw.Scoped(ctx, func(conn *gorm.DB) error {
		r := s.repo.With(conn)

		conv, err := ensureConversation(ctx, r, userID, convID)
		if err != nil {
			return err
		}
		msg, err := appendMessage(ctx, r, convID, RoleUser, prompt)
		if err != nil {
			return err
		}
		history, err := s.history(ctx, r, msg)
		if err != nil {
			return err
		}
		turn = Turn{Conversation: conv, UserMessage: msg, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (s *Service) history(ctx context.Context, r *Repo, latest *Message) ([]ai.Message, error) {
	if s.opts.ContextWindowSize <= 0 {
		return []ai.Message{{Role: latest.Role, Content: latest.Content}}, nil
	}

	recentDesc, err := r.ListRecentMessagesDesc(ctx, latest.ConversationID, s.opts.ContextWindowSize)
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	out := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		out = append(out, ai.Message{Role: recentDesc[i].Role, Content: recentDesc[i].Content})
	}
	return out, nil
}

const titleInstruction = "Write a short title, at most six words, for a conversation that starts with the message below. Reply with the title only."

// GenerateTitle asks the upstream for a title based on the first user message
// and stores it.
func (s *Service) GenerateTitle(ctx context.Context, userID, convID string) (*Conversation, error) {
	conv, err := s.repo.GetOwnedConversation(ctx, userID, convID)
	if err != nil {
		return nil, err
	}
	first, err := s.repo.FirstUserMessage(ctx, convID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNothingToTitle
	}
	if err != nil {
		return nil, err
	}

	provider, err := s.Provider(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := provider.Chat(ctx, []ai.Message{
		{Role: "system", Content: titleInstruction},
		{Role: RoleUser, Content: first.Content},
	})
	if err != nil {
		return nil, fmt.Errorf("generate title: %w", err)
	}

	title := cleanTitle(reply)
	if title == "" {
		title = cleanTitle(first.Content)
	}
	if title == "" {
		return conv, nil
	}
	if err := s.repo.UpdateTitle(ctx, convID, title); err != nil {
		return nil, err
	}
	conv.Title = title
	return conv, nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` .")
	s = strings.Join(strings.Fields(s), " ")
	const max = 60
	if utf8.RuneCountInString(s) > max {
		s = strings.TrimSpace(string([]rune(s)[:max]))
	}
	return s
}

// CreateTitleJob records a queued title job for an owned conversation.
func (s *Service) CreateTitleJob(ctx context.Context, userID, convID string) (*Job, error) {
	if _, err := s.repo.GetOwnedConversation(ctx, userID, convID); err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:             id,
		UserID:         userID,
		ConversationID: convID,
		Kind:           JobKindTitle,
		Status:         JobQueued,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns a job visible to userID.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*Job, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// FailJob marks a job failed without running it.
func (s *Service) FailJob(ctx context.Context, jobID, reason string) error {
	return s.repo.MarkJobFailed(ctx, jobID, reason)
}

// ProcessJob runs a queued job to completion. A job that is already running
// or finished is skipped. Errors wrapping ErrJobFailed are already recorded
// on the job; any other error leaves it queued for redelivery.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	claimed, err := s.repo.MarkJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("job already claimed", zap.String("job_id", jobID))
		return nil
	}

	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		s.release(ctx, jobID)
		return err
	}

	var result string
	switch job.Kind {
	case JobKindTitle:
		conv, genErr := s.GenerateTitle(ctx, job.UserID, job.ConversationID)
		if genErr != nil {
			err = genErr
		} else {
			result = conv.Title
		}
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		if markErr := s.repo.MarkJobFailed(context.WithoutCancel(ctx), jobID, err.Error()); markErr != nil {
			s.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(markErr))
			s.release(ctx, jobID)
			return err
		}
		return fmt.Errorf("%w: %w", ErrJobFailed, err)
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, result); err != nil {
		s.release(ctx, jobID)
		return err
	}
	return nil
}

func (s *Service) release(ctx context.Context, jobID string) {
	if err := s.repo.ReleaseJob(context.WithoutCancel(ctx), jobID); err != nil {
		s.log.Warn("release job", zap.String("job_id", jobID), zap.Error(err))
	}
}
