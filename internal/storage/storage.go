// Package storage persists schedule states, learner profiles and study
// sessions. Every backend serializes writes per record with optimistic
// versioning: a save must carry the version it read.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gofsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"

	"github.com/danieldreier/adaptive-srs/internal/srs"
)

var (
	// ErrNotFound is returned when a schedule or profile does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a record changed since it was read.
	// Callers should re-read and retry.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the persistence contract used by the review service.
type Store interface {
	GetSchedule(ctx context.Context, userID, cardID string) (srs.ScheduleState, error)
	// SaveSchedule writes s if the stored version equals s.Version (0 for a
	// new record) and returns it with the incremented version.
	SaveSchedule(ctx context.Context, s srs.ScheduleState) (srs.ScheduleState, error)
	// ListDue returns schedules eligible at now. An empty deckID means all decks.
	ListDue(ctx context.Context, userID, deckID string, now time.Time) ([]srs.ScheduleState, error)
	ListSchedules(ctx context.Context, userID, deckID string) ([]srs.ScheduleState, error)

	GetProfile(ctx context.Context, userID string) (srs.LearningProfile, error)
	SaveProfile(ctx context.Context, p srs.LearningProfile) (srs.LearningProfile, error)
	ListProfiles(ctx context.Context) ([]srs.LearningProfile, error)

	AppendSession(ctx context.Context, r srs.SessionRecord) error
	// RecentSessions returns at most limit sessions, newest first.
	RecentSessions(ctx context.Context, userID string, limit int) ([]srs.SessionRecord, error)

	Close() error
}

// document is the JSON file layout.
type document struct {
	Schedules   map[string]srs.ScheduleState   `json:"schedules"`
	Profiles    map[string]srs.LearningProfile `json:"profiles"`
	Sessions    []srs.SessionRecord            `json:"sessions"`
	LastUpdated time.Time                      `json:"last_updated"`

	// Cards and Reviews hold the go-fsrs flashcard format. They are
	// converted into Schedules on Load and never written back.
	Cards   map[string]legacyCard `json:"cards,omitempty"`
	Reviews []legacyReview        `json:"reviews,omitempty"`
}

type legacyCard struct {
	ID   string      `json:"id"`
	Tags []string    `json:"tags,omitempty"`
	FSRS gofsrs.Card `json:"fsrs"`
}

type legacyReview struct {
	CardID string        `json:"card_id"`
	Rating gofsrs.Rating `json:"rating"`
}

func newDocument() document {
	return document{
		Schedules: make(map[string]srs.ScheduleState),
		Profiles:  make(map[string]srs.LearningProfile),
		Sessions:  []srs.SessionRecord{},
	}
}

func scheduleKey(userID, cardID string) string {
	return userID + "/" + cardID
}

// FileOption configures a FileStorage.
type FileOption func(*FileStorage)

// WithLegacyUser sets the user that legacy flashcards are imported for.
func WithLegacyUser(userID string) FileOption {
	return func(fs *FileStorage) { fs.legacyUser = userID }
}

// WithSchedulerConfig sets the config used to normalize imported cards.
func WithSchedulerConfig(cfg srs.Config) FileOption {
	return func(fs *FileStorage) { fs.cfg = cfg }
}

// FileStorage implements Store on a single JSON file.
type FileStorage struct {
	filePath   string
	logger     *zap.Logger
	legacyUser string
	cfg        srs.Config

	mu  sync.RWMutex
	doc document
}

var _ Store = (*FileStorage)(nil)

// NewFileStorage creates a FileStorage. Call Load before use.
func NewFileStorage(filePath string, logger *zap.Logger, opts ...FileOption) *FileStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs := &FileStorage{
		filePath:   filePath,
		logger:     logger.Named("storage.file"),
		legacyUser: "default",
		cfg:        srs.DefaultConfig(),
		doc:        newDocument(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// GetSchedule implements Store.
func (fs *FileStorage) GetSchedule(_ context.Context, userID, cardID string) (srs.ScheduleState, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	s, ok := fs.doc.Schedules[scheduleKey(userID, cardID)]
	if !ok {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s/%s: %w", userID, cardID, ErrNotFound)
	}
	return s, nil
}

// SaveSchedule implements Store.
func (fs *FileStorage) SaveSchedule(_ context.Context, s srs.ScheduleState) (srs.ScheduleState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := scheduleKey(s.UserID, s.CardID)
	current, exists := fs.doc.Schedules[key]
	if !versionMatches(exists, current.Version, s.Version) {
		return srs.ScheduleState{}, fmt.Errorf("schedule %s: %w", key, ErrVersionConflict)
	}
	s.Version++
	fs.doc.Schedules[key] = s
	if err := fs.save(); err != nil {
		if exists {
			fs.doc.Schedules[key] = current
		} else {
			delete(fs.doc.Schedules, key)
		}
		return srs.ScheduleState{}, err
	}
	return s, nil
}

// ListDue implements Store.
func (fs *FileStorage) ListDue(_ context.Context, userID, deckID string, now time.Time) ([]srs.ScheduleState, error) {
	return fs.listSchedules(userID, deckID, func(s srs.ScheduleState) bool { return s.IsDue(now) }), nil
}

// ListSchedules implements Store.
func (fs *FileStorage) ListSchedules(_ context.Context, userID, deckID string) ([]srs.ScheduleState, error) {
	return fs.listSchedules(userID, deckID, nil), nil
}

func (fs *FileStorage) listSchedules(userID, deckID string, keep func(srs.ScheduleState) bool) []srs.ScheduleState {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := []srs.ScheduleState{}
	for _, s := range fs.doc.Schedules {
		if s.UserID != userID || (deckID != "" && s.DeckID != deckID) {
			continue
		}
		if keep != nil && !keep(s) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out
}

// GetProfile implements Store.
func (fs *FileStorage) GetProfile(_ context.Context, userID string) (srs.LearningProfile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	p, ok := fs.doc.Profiles[userID]
	if !ok {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return p, nil
}

// SaveProfile implements Store.
func (fs *FileStorage) SaveProfile(_ context.Context, p srs.LearningProfile) (srs.LearningProfile, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	current, exists := fs.doc.Profiles[p.UserID]
	if !versionMatches(exists, current.Version, p.Version) {
		return srs.LearningProfile{}, fmt.Errorf("profile %s: %w", p.UserID, ErrVersionConflict)
	}
	p.Version++
	fs.doc.Profiles[p.UserID] = p
	if err := fs.save(); err != nil {
		if exists {
			fs.doc.Profiles[p.UserID] = current
		} else {
			delete(fs.doc.Profiles, p.UserID)
		}
		return srs.LearningProfile{}, err
	}
	return p, nil
}

// ListProfiles implements Store.
func (fs *FileStorage) ListProfiles(_ context.Context) ([]srs.LearningProfile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]srs.LearningProfile, 0, len(fs.doc.Profiles))
	for _, p := range fs.doc.Profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// AppendSession implements Store.
func (fs *FileStorage) AppendSession(_ context.Context, r srs.SessionRecord) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.doc.Sessions = append(fs.doc.Sessions, r)
	if err := fs.save(); err != nil {
		fs.doc.Sessions = fs.doc.Sessions[:len(fs.doc.Sessions)-1]
		return err
	}
	return nil
}

// RecentSessions implements Store.
func (fs *FileStorage) RecentSessions(_ context.Context, userID string, limit int) ([]srs.SessionRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := []srs.SessionRecord{}
	for i := len(fs.doc.Sessions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if fs.doc.Sessions[i].UserID == userID {
			out = append(out, fs.doc.Sessions[i])
		}
	}
	return out, nil
}

// Close implements Store. The file is written on every change.
func (fs *FileStorage) Close() error {
	return nil
}

// versionMatches is the optimistic-locking rule shared by all backends.
func versionMatches(exists bool, stored, given int64) bool {
	if !exists {
		return given == 0
	}
	return stored == given
}

// save writes the document atomically. The write lock must be held.
func (fs *FileStorage) save() error {
	fs.doc.LastUpdated = time.Now()

	data, err := json.MarshalIndent(fs.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := fs.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tempFile, fs.filePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	fs.logger.Debug("saved store",
		zap.Int("schedules", len(fs.doc.Schedules)),
		zap.Int("profiles", len(fs.doc.Profiles)),
		zap.Int("sessions", len(fs.doc.Sessions)))
	return nil
}

// Load reads the file, creating it when missing. Legacy go-fsrs flashcards
// are converted into schedules for the legacy user and the file is rewritten.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	log := fs.logger.With(zap.String("path", fs.filePath))
	data, err := os.ReadFile(fs.filePath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("store file not found, initializing empty store")
		fs.doc = newDocument()
		return fs.save()
	}
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) == 0 {
		log.Info("store file is empty, initializing empty store")
		fs.doc = newDocument()
		return nil
	}

	doc := newDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal storage data: %w", err)
	}
	if doc.Schedules == nil {
		doc.Schedules = make(map[string]srs.ScheduleState)
	}
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]srs.LearningProfile)
	}
	if doc.Sessions == nil {
		doc.Sessions = []srs.SessionRecord{}
	}
	fs.doc = doc

	if len(doc.Cards) > 0 {
		imported := fs.importLegacy()
		log.Info("imported legacy flashcards",
			zap.Int("cards", imported),
			zap.String("user_id", fs.legacyUser))
		return fs.save()
	}

	log.Debug("loaded store", zap.Int("schedules", len(fs.doc.Schedules)))
	return nil
}

// importLegacy converts doc.Cards into schedules, skipping cards that already
// have one. The write lock must be held.
func (fs *FileStorage) importLegacy() int {
	ratings := make(map[string][]gofsrs.Rating)
	for _, r := range fs.doc.Reviews {
		ratings[r.CardID] = append(ratings[r.CardID], r.Rating)
	}

	imported := 0
	for id, card := range fs.doc.Cards {
		if card.ID == "" {
			card.ID = id
		}
		key := scheduleKey(fs.legacyUser, card.ID)
		if _, ok := fs.doc.Schedules[key]; ok {
			continue
		}
		s := srs.FromFSRSCard(fs.legacyUser, card.ID, card.FSRS, ratings[card.ID], fs.cfg)
		if len(card.Tags) > 0 {
			s.DeckID = card.Tags[0]
		}
		s.Version = 1
		fs.doc.Schedules[key] = s
		imported++
	}
	fs.doc.Cards = nil
	fs.doc.Reviews = nil
	return imported
}
