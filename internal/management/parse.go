package management

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Version is the reply to `version`
type Version struct {
	OpenVPN    string `json:"openvpn"`
	Management string `json:"management"`
}

// State is one row of the `state` reply
type State struct {
	Time        int64  `json:"time"`
	State       string `json:"state"`
	Description string `json:"description"`
	LocalIP     string `json:"local_ip"`
	RemoteIP    string `json:"remote_ip"`
}

// Peer is a connected client from the CLIENT_LIST table
type Peer struct {
	CommonName         string    `json:"common_name"`
	RealAddress        string    `json:"real_address"`
	VirtualAddress     string    `json:"virtual_address"`
	VirtualIPv6Address string    `json:"virtual_ipv6_address"`
	BytesReceived      int64     `json:"bytes_received"`
	BytesSent          int64     `json:"bytes_sent"`
	ConnectedSince     time.Time `json:"connected_since"`
	Username           *string   `json:"username"`
	ClientID           int64     `json:"client_id"`
	PeerID             int64     `json:"peer_id"`
	DataChannelCipher  string    `json:"data_channel_cipher,omitempty"`
}

// Route is a row of the ROUTING_TABLE table
type Route struct {
	VirtualAddress string    `json:"virtual_address"`
	CommonName     string    `json:"common_name"`
	RealAddress    string    `json:"real_address"`
	LastRef        time.Time `json:"last_ref"`
}

// Status is the parsed `status 3` reply
type Status struct {
	ClientList   []Peer   `json:"client_list"`
	RoutingTable []Route  `json:"routing_table"`
	GlobalStats  []string `json:"global_stats"`
}

// LoadStats is the parsed `load-stats` reply
type LoadStats struct {
	NClients int64 `json:"nclients"`
	BytesIn  int64 `json:"bytesin"`
	BytesOut int64 `json:"bytesout"`
}

// Info is a combined snapshot of the daemon
type Info struct {
	LoadStats LoadStats `json:"load_stats"`
	State     *State    `json:"state"`
	Status    Status    `json:"status"`
	Version   Version   `json:"version"`
}

// LogLine is one entry of the daemon log buffer
type LogLine struct {
	Time    int64  `json:"time"`
	Flags   string `json:"flags"`
	Message string `json:"message"`
}

const timeTSuffix = " (time_t)"

func parseVersion(lines []string) *Version {
	v := &Version{}
	for _, line := range lines {
		k, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "OpenVPN Version":
			v.OpenVPN = strings.TrimSpace(val)
		case "Management Version":
			v.Management = strings.TrimSpace(val)
		}
	}
	return v
}

func parseState(lines []string) ([]State, error) {
	states := make([]State, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, ",")
		if len(parts) < 5 {
			return nil, fmt.Errorf("malformed state line: %q", line)
		}
		t, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed state time: %q", parts[0])
		}
		states = append(states, State{
			Time:        t,
			State:       parts[1],
			Description: parts[2],
			LocalIP:     parts[3],
			RemoteIP:    parts[4],
		})
	}
	return states, nil
}

func parseStatus(lines []string, logger *zap.Logger) (*Status, error) {
	status := &Status{ClientList: []Peer{}, RoutingTable: []Route{}, GlobalStats: []string{}}
	headers := make(map[string][]string)

	for _, line := range lines {
		parts := strings.Split(line, "\t")
		table, params := parts[0], parts[1:]

		switch table {
		case "TITLE", "TIME":
			continue
		case "HEADER":
			if len(params) > 0 {
				headers[params[0]] = params[1:]
			}
			continue
		case "GLOBAL_STATS":
			status.GlobalStats = params
			continue
		}

		columns, ok := headers[table]
		if !ok {
			logger.Warn("Unknown status table", zap.String("table", table))
			continue
		}
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(params) {
				row[col] = params[i]
			}
		}

		switch table {
		case "CLIENT_LIST":
			c, err := peerFromRow(row)
			if err != nil {
				return nil, err
			}
			status.ClientList = append(status.ClientList, c)
		case "ROUTING_TABLE":
			r, err := routeFromRow(row)
			if err != nil {
				return nil, err
			}
			status.RoutingTable = append(status.RoutingTable, r)
		}
	}
	return status, nil
}

func peerFromRow(row map[string]string) (Peer, error) {
	c := Peer{
		CommonName:         row["Common Name"],
		RealAddress:        row["Real Address"],
		VirtualAddress:     row["Virtual Address"],
		VirtualIPv6Address: row["Virtual IPv6 Address"],
		DataChannelCipher:  row["Data Channel Cipher"],
	}
	if u, ok := row["Username"]; ok && u != "UNDEF" {
		c.Username = &u
	}

	var err error
	if c.BytesReceived, err = intColumn(row, "Bytes Received"); err != nil {
		return c, err
	}
	if c.BytesSent, err = intColumn(row, "Bytes Sent"); err != nil {
		return c, err
	}
	if c.ClientID, err = intColumn(row, "Client ID"); err != nil {
		return c, err
	}
	if c.PeerID, err = intColumn(row, "Peer ID"); err != nil {
		return c, err
	}
	if c.ConnectedSince, err = timeColumn(row, "Connected Since"); err != nil {
		return c, err
	}
	return c, nil
}

func routeFromRow(row map[string]string) (Route, error) {
	r := Route{
		VirtualAddress: row["Virtual Address"],
		CommonName:     row["Common Name"],
		RealAddress:    row["Real Address"],
	}
	var err error
	r.LastRef, err = timeColumn(row, "Last Ref")
	return r, err
}

func intColumn(row map[string]string, col string) (int64, error) {
	v, ok := row[col]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s: %q", col, v)
	}
	return n, nil
}

// timeColumn prefers the "<col> (time_t)" twin; the human-readable form is
// only used when the daemon does not send one
func timeColumn(row map[string]string, col string) (time.Time, error) {
	if v, ok := row[col+timeTSuffix]; ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed %s: %q", col+timeTSuffix, v)
		}
		return time.Unix(n, 0).UTC(), nil
	}
	v, ok := row[col]
	if !ok || v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed %s: %q", col, v)
	}
	return t, nil
}

func parseLoadStats(line string) (*LoadStats, error) {
	stats := &LoadStats{}
	for _, field := range strings.Split(line, ",") {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("malformed load-stats field: %q", field)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		switch k {
		case "nclients":
			stats.NClients = n
		case "bytesin":
			stats.BytesIn = n
		case "bytesout":
			stats.BytesOut = n
		}
	}
	return stats, nil
}

func parseLog(lines []string) ([]LogLine, error) {
	out := make([]LogLine, 0, len(lines))
	for _, line := range lines {
		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed log line: %q", line)
		}
		t, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed log time: %q", parts[0])
		}
		out = append(out, LogLine{Time: t, Flags: parts[1], Message: parts[2]})
	}
	return out, nil
}

var severityLevels = map[rune]int{'D': 1, 'I': 2, 'W': 3, 'N': 4, 'F': 5}

// Severity is the highest level among the flag characters: D debug, I info,
// W warning, N non-fatal error, F fatal. Empty flags and unknown characters
// count as 0.
func Severity(flags string) int {
	level := 0
	for _, f := range flags {
		if l := severityLevels[f]; l > level {
			level = l
		}
	}
	return level
}
