package stubs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/leosmartdev/prisma-ui-master-sub003/internal/notice"
)

// Site is a rescue coordination site destination.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Fixtures seed the stub backend.
type Fixtures struct {
	Incidents []json.RawMessage `json:"incidents"`
	Sites     []Site            `json:"sites"`
	Notices   []notice.Notice   `json:"notices"`
}

// DefaultFixtures is a small, deterministic data set.
func DefaultFixtures() Fixtures {
	f := Fixtures{
		Incidents: []json.RawMessage{
			json.RawMessage(`{"id":"inc-1","name":"Vessel aground off Sable Island","phase":"alert","state":"open"}`),
			json.RawMessage(`{"id":"inc-2","name":"Overdue fishing vessel","phase":"uncertainty","state":"open"}`),
		},
		Sites: []Site{
			{ID: "site-1", Name: "JRCC Halifax"},
			{ID: "site-2", Name: "MRSC St. John's"},
		},
	}
	for i := 1; i <= 5; i++ {
		p := notice.PriorityInfo
		if i%2 == 1 {
			p = notice.PriorityAlert
		}
		f.Notices = append(f.Notices, notice.Notice{DatabaseID: fmt.Sprintf("notice-%d", i), Priority: p})
	}
	return f
}

// LoadFixtures reads fixtures from a JSON file.
func LoadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}
