// Copyright (C) 2025 Aegi AI (engineering@aegi.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gdelt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AegiAI/aegi-core/pkg/contracts"
)

// GDELT 2.0 export column indices (tab-separated, 61 columns).
const (
	colGlobalEventID  = 0
	colSQLDate        = 1
	colActor1Name     = 6
	colActor1Country  = 7
	colActor2Name     = 16
	colActor2Country  = 17
	colEventCode      = 26
	colEventRootCode  = 28
	colGoldsteinScale = 30
	colNumMentions    = 31
	colAvgTone        = 34
	colActionCountry  = 51
	colSourceURL      = 60
	colCount          = 61
)

// Fetcher returns the next batch of raw GDELT events.
type Fetcher interface {
	Fetch(ctx context.Context) ([]contracts.GDELTEvent, error)
}

// HTTPFetcher pulls the GDELT 2.0 export file over HTTP. Requests are
// paced by a politeness limiter; GDELT publishes every 15 minutes and
// does not appreciate hammering.
type HTTPFetcher struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]contracts.GDELTEvent, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gdelt export fetch: unexpected status %d", resp.StatusCode)
	}
	return ParseExport(resp.Body)
}

// ParseExport reads tab-separated GDELT 2.0 export rows. Malformed rows
// are skipped, not fatal: the feed routinely contains junk lines.
func ParseExport(r io.Reader) ([]contracts.GDELTEvent, error) {
	var out []contracts.GDELTEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ev, ok := parseRow(scanner.Text())
		if ok {
			out = append(out, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseRow(line string) (contracts.GDELTEvent, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < colCount {
		return contracts.GDELTEvent{}, false
	}
	id := strings.TrimSpace(fields[colGlobalEventID])
	if id == "" {
		return contracts.GDELTEvent{}, false
	}
	date, err := time.Parse("20060102", fields[colSQLDate])
	if err != nil {
		return contracts.GDELTEvent{}, false
	}
	goldstein, err := strconv.ParseFloat(fields[colGoldsteinScale], 64)
	if err != nil {
		return contracts.GDELTEvent{}, false
	}
	mentions, _ := strconv.Atoi(fields[colNumMentions])
	tone, _ := strconv.ParseFloat(fields[colAvgTone], 64)

	country := fields[colActionCountry]
	if country == "" {
		country = fields[colActor1Country]
	}
	return contracts.GDELTEvent{
		GlobalEventID:  id,
		EventDate:      date,
		Actor1Name:     fields[colActor1Name],
		Actor2Name:     fields[colActor2Name],
		Actor1Country:  fields[colActor1Country],
		Actor2Country:  fields[colActor2Country],
		CAMEORoot:      fields[colEventRootCode],
		CAMEOCode:      fields[colEventCode],
		GoldsteinScale: goldstein,
		AvgTone:        tone,
		NumMentions:    mentions,
		SourceURL:      fields[colSourceURL],
		Country:        country,
	}, true
}
