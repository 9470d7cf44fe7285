package locmap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvandessel/rmpgen/internal/constants"
)

// Paths are the three files that make up a location map on disk.
type Paths struct {
	Connections string
	NodeInfo    string
	Away        string
}

// CompanionPaths derives the node-info and away files from the base
// connection file: "dir/map.csv" pairs with "dir/map_NodeInfo.csv" and
// "dir/map_Away.csv". When the NodeInfo companion does not exist but the
// legacy "_NoteInfo.csv" spelling does, the legacy file is used.
func CompanionPaths(base string) Paths {
	dir := filepath.Dir(base)
	name := filepath.Base(base)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	nodeInfo := filepath.Join(dir, stem+constants.NodeInfoSuffix)
	if _, err := os.Stat(nodeInfo); errors.Is(err, fs.ErrNotExist) {
		legacy := filepath.Join(dir, stem+constants.LegacyNodeInfoSuffix)
		if _, err := os.Stat(legacy); err == nil {
			nodeInfo = legacy
		}
	}

	return Paths{
		Connections: base,
		NodeInfo:    nodeInfo,
		Away:        filepath.Join(dir, stem+constants.AwaySuffix),
	}
}

// Load opens the three files derived from base and builds the map. Every
// file opened here is closed before Load returns, whether or not the import
// succeeds. A missing file is reported as a MapFormatError.
func Load(base string) (*Map, error) {
	paths := CompanionPaths(base)

	conn, err := openInput(paths.Connections, SourceConnections)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	nodeInfo, err := openInput(paths.NodeInfo, SourceNodeInfo)
	if err != nil {
		return nil, err
	}
	defer nodeInfo.Close()

	away, err := openInput(paths.Away, SourceAway)
	if err != nil {
		return nil, err
	}
	defer away.Close()

	m, err := Build(nodeInfo, conn, away)
	if err != nil {
		return nil, fmt.Errorf("importing location map %s: %w", base, err)
	}
	return m, nil
}

func openInput(path, source string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MapFormatError{Source: source, Message: fmt.Sprintf("file %s does not exist", path)}
		}
		return nil, fmt.Errorf("opening location map %s file: %w", source, err)
	}
	return f, nil
}
