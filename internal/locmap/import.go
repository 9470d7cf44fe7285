package locmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMapFormat is matched by every MapFormatError via errors.Is.
var ErrMapFormat = errors.New("location map format error")

// Input names used in MapFormatError.Source.
const (
	SourceNodeInfo    = "node info"
	SourceConnections = "connections"
	SourceAway        = "away"
)

// MapFormatError reports inconsistent or malformed location map input. It
// is fatal to the batch because every run depends on the shared map.
type MapFormatError struct {
	Source  string
	Line    int
	Message string
}

func (e *MapFormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("location map %s line %d: %s", e.Source, e.Line, e.Message)
	}
	return fmt.Sprintf("location map %s: %s", e.Source, e.Message)
}

// Is makes errors.Is(err, ErrMapFormat) true for every MapFormatError.
func (e *MapFormatError) Is(target error) bool {
	return target == ErrMapFormat
}

// Build imports the three correlated inputs of a location map. Node info is
// loaded first so that connections and away rows can be validated against
// the node set. The caller owns the readers and closes them.
func Build(nodeInfo, connections, away io.Reader) (*Map, error) {
	m := &Map{
		nodes:     make(map[int]Node),
		adjacency: make(map[int][]int),
		away:      make(map[int][]float64),
	}
	if err := m.importNodeInfo(nodeInfo); err != nil {
		return nil, err
	}
	if err := m.importConnections(connections); err != nil {
		return nil, err
	}
	if err := m.importAway(away); err != nil {
		return nil, err
	}
	m.finalize()
	return m, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return cr
}

// readRecord returns the next record with its line number, or io.EOF.
func readRecord(cr *csv.Reader, source string) ([]string, int, error) {
	rec, err := cr.Read()
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, 0, &MapFormatError{Source: source, Line: pe.Line, Message: pe.Err.Error()}
		}
		return nil, 0, fmt.Errorf("reading %s: %w", source, err)
	}
	line, _ := cr.FieldPos(0)
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	return rec, line, nil
}

func parseNodeID(field, source string, line int) (int, error) {
	id, err := strconv.Atoi(field)
	if err != nil {
		return 0, &MapFormatError{Source: source, Line: line, Message: fmt.Sprintf("invalid node id %q", field)}
	}
	return id, nil
}

func (m *Map) importNodeInfo(r io.Reader) error {
	cr := newCSVReader(r)
	header, _, err := readRecord(cr, SourceNodeInfo)
	if err == io.EOF {
		return &MapFormatError{Source: SourceNodeInfo, Message: "missing header row"}
	}
	if err != nil {
		return err
	}

	for {
		rec, line, err := readRecord(cr, SourceNodeInfo)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := parseNodeID(rec[0], SourceNodeInfo, line)
		if err != nil {
			return err
		}
		if _, dup := m.nodes[id]; dup {
			return &MapFormatError{Source: SourceNodeInfo, Line: line, Message: fmt.Sprintf("duplicate node id %d", id)}
		}
		meta := make(map[string]string, len(rec)-1)
		for i := 1; i < len(rec); i++ {
			key := fmt.Sprintf("col%d", i)
			if i < len(header) && header[i] != "" {
				key = header[i]
			}
			meta[key] = rec[i]
		}
		m.nodes[id] = Node{ID: id, Metadata: meta}
		m.order = append(m.order, id)
	}
}

func (m *Map) importConnections(r io.Reader) error {
	cr := newCSVReader(r)
	first := true
	for {
		rec, line, err := readRecord(cr, SourceConnections)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if first {
			first = false
			if _, convErr := strconv.Atoi(rec[0]); convErr != nil {
				continue // header row
			}
		}
		if len(rec) < 2 {
			return &MapFormatError{Source: SourceConnections, Line: line, Message: "expected from,to[,weight]"}
		}
		from, err := parseNodeID(rec[0], SourceConnections, line)
		if err != nil {
			return err
		}
		to, err := parseNodeID(rec[1], SourceConnections, line)
		if err != nil {
			return err
		}
		for _, id := range []int{from, to} {
			if !m.HasNode(id) {
				return &MapFormatError{Source: SourceConnections, Line: line, Message: fmt.Sprintf("unknown node id %d", id)}
			}
		}
		weight := 1.0
		if len(rec) > 2 && rec[2] != "" {
			weight, err = strconv.ParseFloat(rec[2], 64)
			if err != nil {
				return &MapFormatError{Source: SourceConnections, Line: line, Message: fmt.Sprintf("invalid weight %q", rec[2])}
			}
		}
		m.connections = append(m.connections, Connection{From: from, To: to, Weight: weight})
		m.adjacency[from] = append(m.adjacency[from], to)
		if from != to {
			m.adjacency[to] = append(m.adjacency[to], from)
		}
	}
}

func (m *Map) importAway(r io.Reader) error {
	cr := newCSVReader(r)
	if _, _, err := readRecord(cr, SourceAway); err == io.EOF {
		return &MapFormatError{Source: SourceAway, Message: "missing header row"}
	} else if err != nil {
		return err
	}

	for {
		rec, line, err := readRecord(cr, SourceAway)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := parseNodeID(rec[0], SourceAway, line)
		if err != nil {
			return err
		}
		if !m.HasNode(id) {
			return &MapFormatError{Source: SourceAway, Line: line, Message: fmt.Sprintf("unknown node id %d", id)}
		}
		if _, dup := m.away[id]; dup {
			return &MapFormatError{Source: SourceAway, Line: line, Message: fmt.Sprintf("duplicate node id %d", id)}
		}
		if len(rec) < 2 {
			return &MapFormatError{Source: SourceAway, Line: line, Message: "missing away probability"}
		}
		probs := make([]float64, 0, len(rec)-1)
		for _, field := range rec[1:] {
			p, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return &MapFormatError{Source: SourceAway, Line: line, Message: fmt.Sprintf("invalid probability %q", field)}
			}
			if p < 0 || p > 1 {
				return &MapFormatError{Source: SourceAway, Line: line, Message: fmt.Sprintf("probability %v outside [0,1]", p)}
			}
			probs = append(probs, p)
		}
		m.away[id] = probs
	}
}
