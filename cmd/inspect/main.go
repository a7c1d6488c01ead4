package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tiangong-vis/coordinator/internal/recovery"
	"github.com/tiangong-vis/coordinator/internal/seed"
	"github.com/tiangong-vis/coordinator/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to coordinator.db")
	backupID := flag.String("backup", "", "show single backup detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/coordinator.db [--backup id] [--json]")
		os.Exit(2)
	}

	st, err := store.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *backupID != "" {
		err = runBackupMode(st, *backupID, *jsonOut)
	} else {
		err = runStateMode(st, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region state-mode

type stateOutput struct {
	State   *seed.State `json:"state,omitempty"`
	Backups []backupRow `json:"backups"`
}

type backupRow struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	Version     string  `json:"version"`
	Seed        int64   `json:"seed"`
	Quality     float64 `json:"quality"`
	Entropy     float64 `json:"entropy"`
	ChecksumOK  bool    `json:"checksum_ok"`
	Description string  `json:"description,omitempty"`
}

func runStateMode(st store.Store, jsonOut bool) error {
	out := stateOutput{Backups: []backupRow{}}

	s, err := loadState(st)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err == nil {
		out.State = &s
	}

	backups, err := loadBackups(st)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	for _, b := range backups {
		out.Backups = append(out.Backups, toRow(b))
	}

	if jsonOut {
		return printJSON(out)
	}

	if out.State == nil {
		fmt.Println("No randomness state stored.")
	} else {
		printState(*out.State)
	}

	fmt.Printf("\nBackups (%d):\n", len(out.Backups))
	if len(out.Backups) == 0 {
		return nil
	}
	fmt.Printf("%-10s  %-20s  %-8s  %10s  %7s  %7s  %-5s\n",
		"ID", "Created", "Version", "Seed", "Quality", "Entropy", "Sum")
	for _, r := range out.Backups {
		sum := "ok"
		if !r.ChecksumOK {
			sum = "BAD"
		}
		fmt.Printf("%-10s  %-20s  %-8s  %10d  %7.3f  %7.3f  %-5s\n",
			shortID(r.ID), r.CreatedAt, r.Version, r.Seed, r.Quality, r.Entropy, sum)
	}
	return nil
}

func printState(s seed.State) {
	fmt.Printf("Current Seed:  %d\n", s.CurrentSeed)
	fmt.Printf("Reseed Count:  %d\n", s.ReseedCount)
	fmt.Printf("Last Reseed:   %s\n", formatMS(s.LastReseedTime))
	fmt.Printf("Quality:       %.3f\n", s.RandomQuality)
	fmt.Printf("Entropy:       %.3f\n", s.EntropyLevel)
	fmt.Printf("History Depth: %d\n", len(s.SeedHistory))
}

// #endregion state-mode

// #region backup-mode

func runBackupMode(st store.Store, id string, jsonOut bool) error {
	backups, err := loadBackups(st)
	if err != nil {
		return err
	}
	for _, b := range backups {
		if b.ID != id {
			continue
		}
		if jsonOut {
			return printJSON(b)
		}
		fmt.Printf("Backup:      %s\n", b.ID)
		fmt.Printf("Created:     %s\n", formatMS(b.Timestamp))
		fmt.Printf("Version:     %s\n", b.Version)
		fmt.Printf("Description: %s\n", b.Description)
		fmt.Printf("Checksum OK: %v\n", recovery.Checksum(b.State) == b.Checksum)
		fmt.Println("\nState:")
		printState(b.State)
		return nil
	}
	return fmt.Errorf("backup %s not found", id)
}

// #endregion backup-mode

// #region output

func loadState(st store.Store) (seed.State, error) {
	raw, err := st.Get(store.KeyRandomState)
	if err != nil {
		return seed.State{}, err
	}
	var s seed.State
	if err := json.Unmarshal(raw, &s); err != nil {
		return seed.State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}

func loadBackups(st store.Store) ([]recovery.Backup, error) {
	raw, err := st.Get(store.KeyRandomBackups)
	if err != nil {
		return nil, err
	}
	var backups []recovery.Backup
	if err := json.Unmarshal(raw, &backups); err != nil {
		return nil, fmt.Errorf("decode backups: %w", err)
	}
	return backups, nil
}

func toRow(b recovery.Backup) backupRow {
	return backupRow{
		ID:          b.ID,
		CreatedAt:   formatMS(b.Timestamp),
		Version:     b.Version,
		Seed:        b.State.CurrentSeed,
		Quality:     b.State.RandomQuality,
		Entropy:     b.State.EntropyLevel,
		ChecksumOK:  recovery.Checksum(b.State) == b.Checksum,
		Description: b.Description,
	}
}

func formatMS(ms int64) string {
	if ms == 0 {
		return "—"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05Z")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
