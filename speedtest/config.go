package speedtest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

const speedTestConfigUrl = "://www.speedtest.net/speedtest-config.php"

var (
	ErrConfigUnavailable = errors.New("speedtest configuration unavailable")
	ErrConfigMalformed   = errors.New("speedtest configuration malformed")
)

var (
	uploadSizeTable   = [...]int{32768, 65536, 131072, 262144, 524288, 1048576, 7340032}
	downloadSizeTable = [...]int{350, 500, 750, 1000, 1500, 2000, 2500, 3000, 3500, 4000}
)

// Client describes the caller as seen by speedtest.net.
type Client struct {
	IP       string `json:"ip"`
	ISP      string `json:"isp"`
	Location string `json:"location,omitempty"` // set when a virtual location replaced the reported one
	Coordinate
}

func (c Client) String() string {
	return fmt.Sprintf("%s (%s) %s", c.IP, c.ISP, c.Coordinate)
}

// Directions holds one integer per test direction.
type Directions struct {
	Upload   int `json:"upload"`
	Download int `json:"download"`
}

type Lengths struct {
	Upload   time.Duration `json:"upload"`
	Download time.Duration `json:"download"`
}

type Sizes struct {
	Upload   []int `json:"upload"`
	Download []int `json:"download"`
}

// TestConfig is the immutable test configuration of a session. Methods that
// change a value return a modified copy.
type TestConfig struct {
	Client        Client           `json:"client"`
	IgnoreServers map[int]struct{} `json:"-"`
	Sizes         Sizes            `json:"sizes"`
	Counts        Directions       `json:"counts"`
	Threads       Directions       `json:"threads"`
	Length        Lengths          `json:"length"`
	UploadMax     int              `json:"upload_max"`
}

// Ignored reports whether the configuration excludes server id.
func (c *TestConfig) Ignored(id int) bool {
	_, ok := c.IgnoreServers[id]
	return ok
}

// WithUploadThreads returns a copy using n upload workers.
func (c *TestConfig) WithUploadThreads(n int) *TestConfig {
	cp := c.clone()
	cp.Threads.Upload = n
	return cp
}

// WithDownload returns a copy with the given download worker count and
// duration. Zero values keep the current setting.
func (c *TestConfig) WithDownload(threads int, length time.Duration) *TestConfig {
	cp := c.clone()
	if threads > 0 {
		cp.Threads.Download = threads
	}
	if length > 0 {
		cp.Length.Download = length
	}
	return cp
}

// clone copies c deeply so the copy shares no map or slice with it.
func (c *TestConfig) clone() *TestConfig {
	cp := *c
	cp.IgnoreServers = maps.Clone(c.IgnoreServers)
	cp.Sizes = Sizes{
		Upload:   slices.Clone(c.Sizes.Upload),
		Download: slices.Clone(c.Sizes.Download),
	}
	return &cp
}

// OverrideConfig is the configuration used when a fixed URL replaces server
// discovery: a single 1x1 payload class read by two workers for one second.
func OverrideConfig() *TestConfig {
	return &TestConfig{
		Client:        Client{IP: "Unknown", ISP: "Not Checked"},
		IgnoreServers: map[int]struct{}{},
		Sizes:         Sizes{Download: []int{minimalPayloadSize}},
		Counts:        Directions{Download: 1},
		Threads:       Directions{Download: 2},
		Length:        Lengths{Download: time.Second},
	}
}

type configDocument struct {
	Client       *clientElement       `xml:"client"`
	ServerConfig *serverConfigElement `xml:"server-config"`
	Download     *downloadElement     `xml:"download"`
	Upload       *uploadElement       `xml:"upload"`
}

type clientElement struct {
	IP  string `xml:"ip,attr"`
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	Isp string `xml:"isp,attr"`
}

type serverConfigElement struct {
	ThreadCount string  `xml:"threadcount,attr"`
	IgnoreIDs   *string `xml:"ignoreids,attr"`
}

type downloadElement struct {
	TestLength    string `xml:"testlength,attr"`
	ThreadsPerURL string `xml:"threadsperurl,attr"`
}

type uploadElement struct {
	TestLength    string `xml:"testlength,attr"`
	Ratio         string `xml:"ratio,attr"`
	MaxChunkCount string `xml:"maxchunkcount,attr"`
	Threads       string `xml:"threads,attr"`
}

// FetchConfig downloads speedtest-config.php and derives the session's
// TestConfig from it.
func (s *Speedtest) FetchConfig(ctx context.Context) (*TestConfig, error) {
	req, err := newRequest(ctx, http.MethodGet, s.configURL, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrConfigUnavailable, resp.Status)
	}

	cfg, err := parseConfig(resp.Body)
	if err != nil {
		return nil, err
	}
	if s.location != nil {
		cfg.Client.Coordinate = s.location.Coordinate
		cfg.Client.Location = s.location.Name
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return cfg, nil
}

func parseConfig(r io.Reader) (*TestConfig, error) {
	var doc configDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigMalformed, err)
	}
	switch {
	case doc.Client == nil:
		return nil, missingElement("client")
	case doc.ServerConfig == nil:
		return nil, missingElement("server-config")
	case doc.Download == nil:
		return nil, missingElement("download")
	case doc.Upload == nil:
		return nil, missingElement("upload")
	}

	p := attrParser{}
	lat := p.number("client", "lat", doc.Client.Lat)
	lon := p.number("client", "lon", doc.Client.Lon)
	threadCount := p.integer("server-config", "threadcount", doc.ServerConfig.ThreadCount)
	ignore := p.ids("server-config", "ignoreids", doc.ServerConfig.IgnoreIDs)
	dlLength := p.integer("download", "testlength", doc.Download.TestLength)
	dlCount := p.integer("download", "threadsperurl", doc.Download.ThreadsPerURL)
	ulLength := p.integer("upload", "testlength", doc.Upload.TestLength)
	ratio := p.integer("upload", "ratio", doc.Upload.Ratio)
	maxChunks := p.integer("upload", "maxchunkcount", doc.Upload.MaxChunkCount)
	ulThreads := p.integer("upload", "threads", doc.Upload.Threads)
	if p.err != nil {
		return nil, p.err
	}
	if ratio < 1 || ratio > len(uploadSizeTable) {
		return nil, fmt.Errorf("%w: upload ratio %d out of range 1..%d", ErrConfigMalformed, ratio, len(uploadSizeTable))
	}

	upSizes := append([]int(nil), uploadSizeTable[ratio-1:]...)
	uploadCount := int(math.Ceil(float64(maxChunks) / float64(len(upSizes))))

	return &TestConfig{
		Client: Client{
			IP:         doc.Client.IP,
			ISP:        doc.Client.Isp,
			Coordinate: Coordinate{Lat: lat, Lon: lon},
		},
		IgnoreServers: ignore,
		Sizes: Sizes{
			Upload:   upSizes,
			Download: append([]int(nil), downloadSizeTable[:]...),
		},
		Counts: Directions{
			Upload:   uploadCount,
			Download: dlCount,
		},
		Threads: Directions{
			Upload:   ulThreads,
			Download: threadCount * 2,
		},
		Length: Lengths{
			Upload:   time.Duration(ulLength) * time.Second,
			Download: time.Duration(dlLength) * time.Second,
		},
		UploadMax: uploadCount * len(upSizes),
	}, nil
}

func missingElement(name string) error {
	return fmt.Errorf("%w: missing <%s> element", ErrConfigMalformed, name)
}

// attrParser keeps the first conversion error so a document can be read
// attribute by attribute.
type attrParser struct {
	err error
}

func (p *attrParser) fail(elem, attr, value string) {
	if p.err != nil {
		return
	}
	if value == "" {
		p.err = fmt.Errorf("%w: missing %s@%s", ErrConfigMalformed, elem, attr)
		return
	}
	p.err = fmt.Errorf("%w: invalid %s@%s %q", ErrConfigMalformed, elem, attr, value)
}

func (p *attrParser) integer(elem, attr, value string) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		p.fail(elem, attr, value)
	}
	return v
}

func (p *attrParser) number(elem, attr, value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		p.fail(elem, attr, value)
	}
	return v
}

// ids parses a comma separated id list; empty entries are skipped. The
// attribute itself must be present, even if empty.
func (p *attrParser) ids(elem, attr string, value *string) map[int]struct{} {
	set := make(map[int]struct{})
	if value == nil {
		p.fail(elem, attr, "")
		return set
	}
	for _, field := range strings.Split(*value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.Atoi(field)
		if err != nil {
			p.fail(elem, attr, *value)
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
