package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/rmpgen/internal/models"
)

// Property keys understood in the XML property file. Legacy aliases are
// accepted for directories written by earlier drivers.
const (
	KeyNumRuns            = "NUM_RUNS"
	KeyBaseSeed           = "BASE_SEED"
	KeyParallelism        = "PARALLELISM"
	KeyLocationMapPath    = "LOCATION_MAP_PATH"
	KeyBatchTimeout       = "BATCH_TIMEOUT"
	KeyInterruptOnTimeout = "INTERRUPT_ON_TIMEOUT"
	KeyLogLevel           = "LOG_LEVEL"
	KeyLedger             = "LEDGER"
	KeyLedgerPath         = "LEDGER_PATH"

	legacyNumRuns     = "PROP_NUM_SIM_PER_SET"
	legacyBaseSeed    = "PROP_BASESEED"
	legacyParallelism = "PROP_USE_PARALLEL"
)

var keyAliases = map[string]string{
	legacyNumRuns:     KeyNumRuns,
	legacyBaseSeed:    KeyBaseSeed,
	legacyParallelism: KeyParallelism,
}

// propertiesDoc is the Java XML properties document:
//
//	<properties><entry key="NUM_RUNS">10</entry></properties>
type propertiesDoc struct {
	XMLName xml.Name        `xml:"properties"`
	Comment string          `xml:"comment"`
	Entries []propertyEntry `xml:"entry"`
}

type propertyEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// ReadProps parses an XML property file into a key/value map. Later
// entries override earlier ones.
func ReadProps(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.WrapConfigurationError(filepath.Base(path), "reading property file", err)
	}

	var doc propertiesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, models.WrapConfigurationError(filepath.Base(path), "parsing property file", err)
	}

	props := make(map[string]string, len(doc.Entries))
	for _, e := range doc.Entries {
		key := strings.TrimSpace(e.Key)
		if key == "" {
			return nil, models.NewConfigurationError(filepath.Base(path), "entry without a key")
		}
		props[key] = strings.TrimSpace(e.Value)
	}
	return props, nil
}

// LoadPropFile loads configuration from the XML property file. Every entry
// is also kept in Props so stages can read keys this package does not know.
func LoadPropFile(path string) (*BatchConfig, error) {
	props, err := ReadProps(path)
	if err != nil {
		return nil, err
	}
	cfg, err := FromProps(props)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// FromProps builds a BatchConfig from flat property keys.
func FromProps(props map[string]string) (*BatchConfig, error) {
	cfg := Default()
	cfg.Props = make(map[string]string, len(props))

	for rawKey, value := range props {
		cfg.Props[rawKey] = value

		key := strings.ToUpper(rawKey)
		if canonical, ok := keyAliases[key]; ok {
			// The canonical key wins when both spellings are present.
			if _, both := props[canonical]; both {
				continue
			}
			key = canonical
		}
		if err := cfg.setProp(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *BatchConfig) setProp(key, value string) error {
	switch key {
	case KeyNumRuns:
		n, err := strconv.Atoi(value)
		if err != nil {
			return models.WrapConfigurationError(key, "not an integer", err)
		}
		c.NumRuns = n
	case KeyBaseSeed:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return models.WrapConfigurationError(key, "not an integer", err)
		}
		c.BaseSeed = &n
	case KeyParallelism:
		n, err := strconv.Atoi(value)
		if err != nil {
			return models.WrapConfigurationError(key, "not an integer", err)
		}
		c.Parallelism = &n
	case KeyLocationMapPath:
		c.LocationMapPath = expandEnvVars(value)
	case KeyBatchTimeout:
		d, err := time.ParseDuration(value)
		if err != nil {
			return models.WrapConfigurationError(key, "not a duration", err)
		}
		c.BatchTimeout = d
	case KeyInterruptOnTimeout:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return models.WrapConfigurationError(key, "not a boolean", err)
		}
		c.InterruptOnTimeout = b
	case KeyLogLevel:
		c.Logging.Level = value
	case KeyLedger:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return models.WrapConfigurationError(key, "not a boolean", err)
		}
		c.Ledger.Enabled = b
	case KeyLedgerPath:
		c.Ledger.Path = value
	default:
		return c.setStageProp(key, value)
	}
	return nil
}

// setStageProp handles STAGE_<NAME>_COMMAND and STAGE_<NAME>_REQUIRES.
// Other keys are ignored here; they remain in Props.
func (c *BatchConfig) setStageProp(key, value string) error {
	rest, ok := strings.CutPrefix(key, "STAGE_")
	if !ok {
		return nil
	}

	var name, field string
	switch {
	case strings.HasSuffix(rest, "_COMMAND"):
		name, field = strings.TrimSuffix(rest, "_COMMAND"), "command"
	case strings.HasSuffix(rest, "_REQUIRES"):
		name, field = strings.TrimSuffix(rest, "_REQUIRES"), "requires"
	default:
		return nil
	}

	st, err := models.ParseStage(name)
	if err != nil {
		return models.WrapConfigurationError(key, fmt.Sprintf("unknown stage %q", name), err)
	}

	if c.Stages == nil {
		c.Stages = make(map[string]StageConfig)
	}
	sc := c.Stages[st.String()]
	switch field {
	case "command":
		argv := strings.Fields(value)
		for i, a := range argv {
			argv[i] = expandEnvVars(a)
		}
		sc.Command = argv
	case "requires":
		sc.Requires = nil
		for _, r := range strings.Split(value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				sc.Requires = append(sc.Requires, r)
			}
		}
	}
	c.Stages[st.String()] = sc
	return nil
}
