// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import "time"

// GDELTEvent is one monitored event row from the GDELT 2.0 export.
// Status becomes "anomaly" when any anomaly detector fires.
type GDELTEvent struct {
	UID            string    `json:"uid"`
	GlobalEventID  string    `json:"global_event_id"`
	EventDate      time.Time `json:"event_date"`
	Actor1Name     string    `json:"actor1_name,omitempty"`
	Actor2Name     string    `json:"actor2_name,omitempty"`
	Actor1Country  string    `json:"actor1_country,omitempty"`
	Actor2Country  string    `json:"actor2_country,omitempty"`
	CAMEORoot      string    `json:"cameo_root"`
	CAMEOCode      string    `json:"cameo_code"`
	GoldsteinScale float64   `json:"goldstein_scale"`
	AvgTone        float64   `json:"avg_tone"`
	NumMentions    int       `json:"num_mentions"`
	SourceURL      string    `json:"source_url,omitempty"`
	Country        string    `json:"country,omitempty"`
	Status         string    `json:"status"` // "new" | "anomaly" | "ingested"
	AnomalyType    string    `json:"anomaly_type,omitempty"`
	PolledAt       time.Time `json:"polled_at"`
}

// GDELTStats summarizes the monitor's stored events.
type GDELTStats struct {
	TotalEvents  int            `json:"total_events"`
	Anomalies    int            `json:"anomalies"`
	Ingested     int            `json:"ingested"`
	ByCountry    map[string]int `json:"by_country"`
	ByCAMEORoot  map[string]int `json:"by_cameo_root"`
	LastPolledAt time.Time      `json:"last_polled_at,omitempty"`
}
