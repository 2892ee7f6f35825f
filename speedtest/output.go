package speedtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Report is the exported result of one session.
type Report struct {
	SessionID     string      `json:"session_id"`
	Timestamp     outputTime  `json:"timestamp"`
	Client        Client      `json:"client"`
	Server        *Server     `json:"server"`
	Ping          float64     `json:"ping"`
	Download      SpeedResult `json:"download"`
	BytesReceived int64       `json:"bytes_received"`
}

type outputTime time.Time

func (t outputTime) MarshalJSON() ([]byte, error) {
	stamp := fmt.Sprintf("\"%s\"", time.Time(t).Format("2006-01-02 15:04:05.000"))
	return []byte(stamp), nil
}

// Report stamps a download result with the session's identity. The client
// comes from cfg, or from the session's fetched configuration when cfg is nil.
func (s *Speedtest) Report(cfg *TestConfig, server *Server, download SpeedResult) *Report {
	r := &Report{
		SessionID:     s.ID,
		Timestamp:     outputTime(time.Now()),
		Server:        server,
		Download:      download,
		BytesReceived: download.Bytes,
	}
	if cfg == nil {
		cfg = s.Config()
	}
	if cfg != nil {
		r.Client = cfg.Client
	}
	if server != nil && server.Latency != nil {
		r.Ping = *server.Latency
	}
	return r
}

func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

var csvHeader = []string{
	"Session ID", "Server ID", "Sponsor", "Server Name", "Timestamp",
	"Distance", "Ping", "Download", "Bytes Received", "IP Address",
}

// CSVHeader renders the column names matching CSV.
func CSVHeader(delimiter rune) ([]byte, error) {
	return writeCSV(delimiter, csvHeader)
}

// CSV renders the report as one delimited line. Distance is in km, ping in
// ms and download in bits per second.
func (r *Report) CSV(delimiter rune) ([]byte, error) {
	var id, sponsor, name string
	var distance float64
	if r.Server != nil {
		id = strconv.Itoa(r.Server.ID)
		sponsor, name, distance = r.Server.Sponsor, r.Server.Name, r.Server.Distance
	}
	return writeCSV(delimiter, []string{
		r.SessionID,
		id,
		sponsor,
		name,
		time.Time(r.Timestamp).UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(distance, 'f', -1, 64),
		strconv.FormatFloat(r.Ping, 'f', 3, 64),
		strconv.FormatFloat(r.Download.Bitrate, 'f', -1, 64),
		strconv.FormatInt(r.BytesReceived, 10),
		r.Client.IP,
	})
}

func writeCSV(delimiter rune, record []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter
	if err := w.Write(record); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
