package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mescon/Seedrarr/internal/domain"
	"github.com/mescon/Seedrarr/internal/integration"
	"github.com/mescon/Seedrarr/internal/testutil"
)

const testHash = "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"

func entryFor(id string) domain.LedgerEntry {
	return domain.LedgerEntry{Title: "Show.S01E01", TorrentID: id}
}

func TestResolveActiveTask(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "downloading", Progress: 42}, nil
		},
		GetTaskProgressFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "downloading", Progress: 55}, nil
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor("123"))
	if status.State != domain.StateDownloading {
		t.Errorf("Expected state downloading, got %s", status.State)
	}
	if status.Progress != 55 {
		t.Errorf("Expected progress endpoint to enrich to 55, got %v", status.Progress)
	}
	if seedr.CallCount("GetFolderContents") != 0 {
		t.Error("Folder scan should not run when the task API answered")
	}
}

func TestResolveProgressEnrichmentFailureKeepsPrimary(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "queued", Progress: 10}, nil
		},
		GetTaskProgressFunc: func(taskID string) (*integration.Task, error) {
			return nil, fmt.Errorf("progress endpoint down")
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor("123"))
	if status.State != domain.StateDownloading {
		t.Errorf("Expected state downloading, got %s", status.State)
	}
	if status.Progress != 10 {
		t.Errorf("Expected primary progress 10 to survive, got %v", status.Progress)
	}
}

func TestResolveCompletedTaskForcesFullProgress(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "finished", Progress: 97}, nil
		},
		GetTaskProgressFunc: func(taskID string) (*integration.Task, error) {
			return nil, fmt.Errorf("gone")
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor("123"))
	if status.State != domain.StateCompleted {
		t.Errorf("Expected state completed, got %s", status.State)
	}
	if status.Progress != 100 {
		t.Errorf("Expected completed progress 100, got %v", status.Progress)
	}
}

func TestResolveFolderFallback(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "unknown"}, nil
		},
		GetFolderContentsFunc: func(folderID string) ([]domain.RemoteItem, error) {
			return []domain.RemoteItem{
				{Kind: domain.ItemFolder, ID: "900", Name: "Other Show", TorrentHash: "ffff"},
				{Kind: domain.ItemFolder, ID: "901", Name: "Show S01E01", TorrentHash: strings.ToUpper(testHash)},
				{Kind: domain.ItemFile, ID: "902", Name: "readme.txt"},
			}, nil
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor(testHash))
	if status.State != domain.StateCompleted {
		t.Fatalf("Expected state completed, got %s", status.State)
	}
	if status.Progress != 100 {
		t.Errorf("Expected progress 100, got %v", status.Progress)
	}
	if status.FolderRef != "901" {
		t.Errorf("Expected folder ref 901, got %q", status.FolderRef)
	}
}

func TestResolveHashShortcutRetriesScan(t *testing.T) {
	scanCalls := 0
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return nil, fmt.Errorf("task API unavailable")
		},
		GetFolderContentsFunc: func(folderID string) ([]domain.RemoteItem, error) {
			scanCalls++
			if scanCalls == 1 {
				return nil, fmt.Errorf("listing unavailable")
			}
			return []domain.RemoteItem{
				{Kind: domain.ItemFolder, ID: "77", Name: "Show", TorrentHash: testHash},
			}, nil
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor(testHash))
	if status.State != domain.StateCompleted {
		t.Fatalf("Expected direct folder scan to find the hash, got state %s", status.State)
	}
	if status.FolderRef != "77" {
		t.Errorf("Expected folder ref 77, got %q", status.FolderRef)
	}
	if scanCalls != 2 {
		t.Errorf("Expected 2 scans (legacy then direct), got %d", scanCalls)
	}
}

func TestResolveNoHashShortcutForTaskIDs(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return nil, fmt.Errorf("task API unavailable")
		},
		GetFolderContentsFunc: func(folderID string) ([]domain.RemoteItem, error) {
			return nil, fmt.Errorf("listing unavailable")
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor("123456"))
	if status.State != domain.StateError {
		t.Fatalf("Expected state error, got %s", status.State)
	}
	if seedr.CallCount("GetFolderContents") != 1 {
		t.Errorf("Non-hash ids should not get the direct scan retry, got %d scans", seedr.CallCount("GetFolderContents"))
	}
	if status.Message == "" {
		t.Error("Error state should carry the failure message")
	}
}

func TestResolveNothingFoundIsUnknown(t *testing.T) {
	seedr := &testutil.MockSeedrClient{
		GetTaskFunc: func(taskID string) (*integration.Task, error) {
			return &integration.Task{ID: taskID, Status: "unknown"}, nil
		},
		GetFolderContentsFunc: func(folderID string) ([]domain.RemoteItem, error) {
			return []domain.RemoteItem{}, nil
		},
	}
	r := NewStatusReconciler(seedr)

	status := r.Resolve(context.Background(), entryFor("123"))
	if status.State != domain.StateUnknown {
		t.Errorf("Clean lookups with no trace should be unknown, got %s", status.State)
	}
}

func TestIsContentHash(t *testing.T) {
	tests := []struct {
		id       string
		expected bool
	}{
		{testHash, true},
		{strings.ToUpper(testHash), true},
		{"123456", false},
		{"", false},
		{strings.Repeat("g", 40), false},
		{testHash + "0", false},
	}

	for _, tt := range tests {
		if got := isContentHash(tt.id); got != tt.expected {
			t.Errorf("isContentHash(%q) = %v, expected %v", tt.id, got, tt.expected)
		}
	}
}
