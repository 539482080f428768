package store_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/pdellaert/fbw-installer/internal/store"
	"github.com/pdellaert/fbw-installer/internal/testutil"
)

func TestInstallRecordStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	storeInstance := store.New(db)

	t.Run("Missing record", func(t *testing.T) {
		_, err := storeInstance.GetInstallRecord("missing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("Expected sql.ErrNoRows, got %v", err)
		}
	})

	t.Run("Record and update", func(t *testing.T) {
		if err := storeInstance.RecordInstall("fbw", "1.0.0", "https://example.com/fbw", false, "abc"); err != nil {
			t.Fatalf("Failed to record install: %v", err)
		}

		rec, err := storeInstance.GetInstallRecord("fbw")
		if err != nil {
			t.Fatalf("Failed to get install record: %v", err)
		}
		if rec.Version != "1.0.0" || rec.Verified || rec.Digest != "abc" {
			t.Errorf("Unexpected record: %+v", rec)
		}

		if err := storeInstance.RecordInstall("fbw", "1.1.0", "https://example.com/fbw", true, "def"); err != nil {
			t.Fatalf("Failed to update install: %v", err)
		}

		rec, err = storeInstance.GetInstallRecord("fbw")
		if err != nil {
			t.Fatalf("Failed to get install record: %v", err)
		}
		if rec.Version != "1.1.0" || !rec.Verified || rec.Digest != "def" {
			t.Errorf("Expected updated record, got %+v", rec)
		}
	})

	t.Run("List and delete", func(t *testing.T) {
		if err := storeInstance.RecordInstall("other", "0.1.0", "https://example.com/other", false, ""); err != nil {
			t.Fatalf("Failed to record install: %v", err)
		}

		records, err := storeInstance.ListInstallRecords()
		if err != nil {
			t.Fatalf("Failed to list records: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("Expected 2 records, got %d", len(records))
		}

		if err := storeInstance.DeleteInstallRecord("fbw"); err != nil {
			t.Fatalf("Failed to delete record: %v", err)
		}
		records, err = storeInstance.ListInstallRecords()
		if err != nil {
			t.Fatalf("Failed to list records: %v", err)
		}
		if len(records) != 1 || records[0].PluginID != "other" {
			t.Errorf("Expected only 'other' to remain, got %+v", records)
		}

		// Deleting an absent record is not an error.
		if err := storeInstance.DeleteInstallRecord("fbw"); err != nil {
			t.Errorf("Expected no error deleting absent record, got %v", err)
		}
	})
}
