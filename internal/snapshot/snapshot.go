package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/podspectre/internal/models"
)

const (
	filePrefix  = "abnormal_pods_"
	fileSuffix  = ".json"
	fileVersion = 1
	keyLayout   = "20060102"
	dateLayout  = "2006-01-02"
)

// ErrPastSnapshot is returned when writing a date before the store's today.
var ErrPastSnapshot = errors.New("snapshot for a past date is read-only")

// File is the persisted snapshot JSON payload.
type File struct {
	Version   int                       `json:"version"`
	Date      string                    `json:"date"`
	WrittenAt time.Time                 `json:"written_at"`
	Entries   []models.AbnormalPodEntry `json:"entries"`
}

// Store keeps one JSON file per calendar date in a directory.
type Store struct {
	dir string
	loc *time.Location
	now func() time.Time

	mu sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithLocation sets the time zone used to derive calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock injects the time source used to decide what "today" is.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New opens a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("snapshot directory is empty")
	}
	if err := os.MkdirAll(trimmed, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	s := &Store{dir: trimmed, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory holding snapshot files
func (s *Store) Dir() string {
	return s.dir
}

// Today returns midnight of the current date in the store's time zone.
func (s *Store) Today() time.Time {
	return s.day(s.now())
}

// Yesterday returns the calendar day before date.
func (s *Store) Yesterday(date time.Time) time.Time {
	d := s.day(date)
	return time.Date(d.Year(), d.Month(), d.Day()-1, 0, 0, 0, 0, s.loc)
}

// Path returns the file path for date's snapshot.
func (s *Store) Path(date time.Time) string {
	return filepath.Join(s.dir, filePrefix+s.day(date).Format(keyLayout)+fileSuffix)
}

// Write persists entries as date's snapshot, replacing any previous one.
// Duplicate identities keep their first entry. The file is replaced atomically.
func (s *Store) Write(date time.Time, entries []models.AbnormalPodEntry) error {
	day := s.day(date)
	if day.Before(s.Today()) {
		return fmt.Errorf("%w: %s", ErrPastSnapshot, day.Format(dateLayout))
	}

	snap := models.NewDailySnapshot(day, entries)
	payload := File{
		Version:   fileVersion,
		Date:      day.Format(dateLayout),
		WrittenAt: s.now().UTC(),
		Entries:   snap.Entries,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.Path(day), append(data, '\n'))
}

// Read loads date's snapshot. A missing snapshot is an empty list, not an error.
func (s *Store) Read(date time.Time) ([]models.AbnormalPodEntry, error) {
	day := s.day(date)
	path := s.Path(day)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.AbnormalPodEntry{}, nil
		}
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot file %s: %w", filepath.Base(path), err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d in %s", file.Version, filepath.Base(path))
	}
	if want := day.Format(dateLayout); file.Date != want {
		return nil, fmt.Errorf("snapshot file %s holds date %q, expected %q", filepath.Base(path), file.Date, want)
	}

	if file.Entries == nil {
		return []models.AbnormalPodEntry{}, nil
	}
	return models.NewDailySnapshot(day, file.Entries).Entries, nil
}

// Dates lists the dates that have a stored snapshot, oldest first.
func (s *Store) Dates() ([]time.Time, error) {
	items, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list snapshot directory: %w", err)
	}

	dates := make([]time.Time, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if item.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		date, err := time.ParseInLocation(keyLayout, key, s.loc)
		if err != nil {
			continue
		}
		dates = append(dates, date)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func (s *Store) day(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// writeAtomic writes data to a temp file in the target directory, syncs it and renames it into place.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod snapshot file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}
