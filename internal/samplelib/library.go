// Package samplelib manages the few-shot sample library: the labeled
// (input, intent, slots) examples retrieved at prediction time. The JSON
// file on disk is the system of record; a chromem-go collection mirrors it
// for similarity search.
package samplelib

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrLibraryFull is returned by Insert when the library has reached
	// its configured capacity.
	ErrLibraryFull = errors.New("sample library is full")

	// ErrDuplicate is returned by Insert when an entry with the same
	// input text already exists.
	ErrDuplicate = errors.New("sample already in library")

	// ErrNotFound is returned by Remove when no entry matches the input.
	ErrNotFound = errors.New("sample not found")
)

// Output is the labeled prediction a sample teaches: the intent code and
// the slot key/value pairs extracted from the input.
type Output struct {
	Intent string            `json:"intent"`
	Slots  map[string]string `json:"slots,omitempty"`
}

// Entry is a single sample: a user input paired with its labeled output.
type Entry struct {
	Input  string `json:"input"`
	Output Output `json:"output"`
}

// Library holds the sample set in memory and persists it to a JSON file.
// Entries are keyed by exact input text. Safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	path    string
	maxSize int
	entries map[string]Entry
}

// Load reads the library from path. A missing file yields an empty
// library; the file is created on the first Save.
func Load(path string, maxSize int) (*Library, error) {
	lib := &Library{
		path:    path,
		maxSize: maxSize,
		entries: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("read sample library: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse sample library %s: %w", path, err)
	}
	for _, e := range entries {
		lib.entries[e.Input] = e
	}
	return lib, nil
}

// Path returns the JSON file backing the library.
func (l *Library) Path() string {
	return l.path
}

// Size returns the number of samples currently in the library.
func (l *Library) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// MaxSize returns the configured capacity, 0 meaning unlimited.
func (l *Library) MaxSize() int {
	return l.maxSize
}

// Contains reports whether a sample with the exact input text exists.
func (l *Library) Contains(input string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[input]
	return ok
}

// Get returns the entry for the exact input text.
func (l *Library) Get(input string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[input]
	return e, ok
}

// Insert adds a new sample. It fails with ErrDuplicate if the input text
// is already present and with ErrLibraryFull at capacity, so a batch of
// candidate inserts degrades gracefully instead of evicting samples.
func (l *Library) Insert(e Entry) error {
	if e.Input == "" {
		return errors.New("sample input must not be empty")
	}
	if e.Output.Intent == "" {
		return errors.New("sample intent must not be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[e.Input]; ok {
		return ErrDuplicate
	}
	if l.maxSize > 0 && len(l.entries) >= l.maxSize {
		return ErrLibraryFull
	}
	l.entries[e.Input] = e
	return nil
}

// Remove deletes the sample whose input text matches exactly. Near
// matches are left alone; removal never touches more than one entry.
func (l *Library) Remove(input string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[input]; !ok {
		return ErrNotFound
	}
	delete(l.entries, input)
	return nil
}

// List returns all entries sorted by input text, for stable serialization
// and display.
func (l *Library) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out
}

// Replace swaps the entire sample set, used by bulk import. Capacity is
// not enforced here; the importer decides how to handle oversized sets.
func (l *Library) Replace(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		l.entries[e.Input] = e
	}
}

// Save writes the library to its JSON file atomically: marshal to a temp
// file in the same directory, then rename over the target. A crash
// mid-write leaves the previous file intact.
func (l *Library) Save() error {
	entries := l.List()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sample library: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create library directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".samplelib-*.json")
	if err != nil {
		return fmt.Errorf("create temp library file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp library file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp library file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace library file: %w", err)
	}
	return nil
}
