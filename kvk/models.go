package kvk

import (
	"encoding/json"
	"time"
)

// DateLayout is the calendar-date format used for upload dates on the wire
// and in the uploads table.
const DateLayout = "2006-01-02"

// PlayerStatRecord is one player's KvK snapshot. JSON names match the CSV
// columns and the player_stats table.
type PlayerStatRecord struct {
	LordID      int64  `json:"lord_id"`
	Name        string `json:"name"`
	AllianceID  *int64 `json:"alliance_id"`
	AllianceTag string `json:"alliance_tag"`
	HomeServer  string `json:"home_server"`
	TownCenter  int64  `json:"town_center"`

	Power         int64 `json:"power"`
	HighestPower  int64 `json:"highest_power"`
	LegionPower   int64 `json:"legion_power"`
	TechPower     int64 `json:"tech_power"`
	BuildingPower int64 `json:"building_power"`
	HeroPower     int64 `json:"hero_power"`

	UnitsKilled int64 `json:"units_killed"`
	UnitsDead   int64 `json:"units_dead"`
	UnitsHealed int64 `json:"units_healed"`

	Faction string `json:"faction"`
	Merits  int64  `json:"merits"`

	CitySieges int64 `json:"city_sieges"`
	Defeats    int64 `json:"defeats"`
	Victories  int64 `json:"victories"`

	GoldSpent  int64 `json:"gold_spent"`
	WoodSpent  int64 `json:"wood_spent"`
	StoneSpent int64 `json:"stone_spent"`
	ManaSpent  int64 `json:"mana_spent"`
	GemsSpent  int64 `json:"gems_spent"`

	KillcountT1 int64 `json:"killcount_t1"`
	KillcountT2 int64 `json:"killcount_t2"`
	KillcountT3 int64 `json:"killcount_t3"`
	KillcountT4 int64 `json:"killcount_t4"`
	KillcountT5 int64 `json:"killcount_t5"`

	ResourcesGiven int64 `json:"resources_given"`
	HelpsGiven     int64 `json:"helps_given"`
}

// UploadManifest describes one ingestion event. UploadDate is the "as of"
// date of the snapshot, not the time it was ingested.
type UploadManifest struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	UploadDate  time.Time `json:"-"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
	// FinalizedAt is set once every batch of the upload has been stored.
	// Nil marks an ingest that failed part way and holds a partial snapshot.
	FinalizedAt *time.Time `json:"finalized_at"`
}

func (m UploadManifest) Finalized() bool {
	return m.FinalizedAt != nil
}

func (m UploadManifest) MarshalJSON() ([]byte, error) {
	type manifest UploadManifest
	return json.Marshal(struct {
		manifest
		UploadDate string `json:"upload_date"`
	}{manifest(m), m.UploadDate.Format(DateLayout)})
}

type IngestRequest struct {
	CSVData    string
	UploadDate string // YYYY-MM-DD
	Filename   string
}

type IngestResult struct {
	UploadID    string `json:"uploadId"`
	RecordCount int    `json:"recordCount"`
	Skipped     int    `json:"skipped"`
}
