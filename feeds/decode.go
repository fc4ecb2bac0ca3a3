package feeds

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"argus/core"
	"argus/dataset"

	"gopkg.in/yaml.v3"
)

// maxLineLength bounds one line of a line-list feed
const maxLineLength = 1024 * 1024

// CSVOptions configures CSV decoding
type CSVOptions struct {
	// Delimiter separates columns; zero means ','
	Delimiter rune
	// SkipHeader drops the first record
	SkipHeader bool
}

// readLines calls fn with every non-empty line, stripped of "#" comments
func readLines(r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// readRecords calls fn with every CSV record. Lines starting with '#' are
// comments and field counts may vary between records.
func readRecords(r io.Reader, opts CSVOptions, fn func(record []string) error) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV: %w", err)
		}
		if first && opts.SkipHeader {
			first = false
			continue
		}
		first = false
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}

// parseNetwork accepts "10.0.0.0/8" or a bare address meaning a host network
func parseNetwork(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// firstToken returns the part of a line before any comma or whitespace
func firstToken(line string) string {
	if idx := strings.IndexAny(line, ", \t;"); idx >= 0 {
		return line[:idx]
	}
	return line
}

// DecodeIPSet reads one address per line
func DecodeIPSet(r io.Reader) (*dataset.IPSet, int, error) {
	var (
		addrs   []netip.Addr
		skipped int
	)
	err := readLines(r, func(line string) error {
		addr, err := netip.ParseAddr(firstToken(line))
		if err != nil {
			skipped++
			return nil
		}
		addrs = append(addrs, addr)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return dataset.NewIPSet(addrs...), skipped, nil
}

// DecodeTextSet reads one value per line
func DecodeTextSet(r io.Reader) (*dataset.TextSet, int, error) {
	var values []string
	err := readLines(r, func(line string) error {
		values = append(values, line)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return dataset.NewTextSet(values...), 0, nil
}

// DecodeIPMap reads "address,value" records
func DecodeIPMap(r io.Reader, opts CSVOptions) (*dataset.IPMap, int, error) {
	var (
		entries []dataset.IPMapEntry
		skipped int
	)
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 2 {
			skipped++
			return nil
		}
		addr, err := netip.ParseAddr(rec[0])
		if err != nil {
			skipped++
			return nil
		}
		entries = append(entries, dataset.IPMapEntry{Addr: addr, Value: rec[1]})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return dataset.NewIPMap(entries...), skipped, nil
}

// DecodeIPMapList reads "address,value[,value...]" records; repeated
// addresses accumulate values
func DecodeIPMapList(r io.Reader, opts CSVOptions) (*dataset.IPMapList, int, error) {
	var (
		entries []dataset.IPMapListEntry
		skipped int
	)
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 2 {
			skipped++
			return nil
		}
		addr, err := netip.ParseAddr(rec[0])
		if err != nil {
			skipped++
			return nil
		}
		entries = append(entries, dataset.IPMapListEntry{Addr: addr, Values: nonEmpty(rec[1:])})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return dataset.NewIPMapList(entries...), skipped, nil
}

// DecodeTextMap reads "key,value" records
func DecodeTextMap(r io.Reader, opts CSVOptions) (*dataset.TextMap, int, error) {
	var (
		entries []dataset.TextEntry
		skipped int
	)
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 2 || rec[0] == "" {
			skipped++
			return nil
		}
		entries = append(entries, dataset.TextEntry{Key: rec[0], Value: rec[1]})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return dataset.NewTextMap(entries...), skipped, nil
}

// DecodeTextMapList reads "key,value[,value...]" records
func DecodeTextMapList(r io.Reader, opts CSVOptions) (*dataset.TextMapList, int, error) {
	var (
		entries []dataset.TextListEntry
		skipped int
	)
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 2 || rec[0] == "" {
			skipped++
			return nil
		}
		entries = append(entries, dataset.TextListEntry{Key: rec[0], Values: nonEmpty(rec[1:])})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return dataset.NewTextMapList(entries...), skipped, nil
}

// DecodeIPNet reads "network[,value]" records
func DecodeIPNet(r io.Reader, opts CSVOptions) (*dataset.IPNet[string], int, error) {
	n := dataset.NewIPNet[string]()
	skipped := 0
	err := readRecords(r, opts, func(rec []string) error {
		prefix, err := parseNetwork(rec[0])
		if err != nil {
			skipped++
			return nil
		}
		value := ""
		if len(rec) > 1 {
			value = rec[1]
		}
		if err := n.InsertPrefix(prefix, value); err != nil {
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return n, skipped, nil
}

// DecodeGeoIP reads
// "network,country_iso[,country[,city[,latitude[,longitude[,isp[,asn]]]]]]"
// records
func DecodeGeoIP(r io.Reader, opts CSVOptions) (*dataset.GeoIP, int, error) {
	n := dataset.NewIPNet[dataset.GeoIPInfo]()
	skipped := 0
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 2 || rec[1] == "" {
			skipped++
			return nil
		}
		prefix, err := parseNetwork(rec[0])
		if err != nil {
			skipped++
			return nil
		}
		info, err := geoInfo(rec)
		if err != nil {
			skipped++
			return nil
		}
		if err := n.InsertPrefix(prefix, info); err != nil {
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return n, skipped, nil
}

func geoInfo(rec []string) (dataset.GeoIPInfo, error) {
	col := func(i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}
	info := dataset.GeoIPInfo{
		CountryISO: strings.ToUpper(col(1)),
		Country:    col(2),
		City:       col(3),
		ISP:        col(6),
	}
	var err error
	if s := col(4); s != "" {
		if info.Latitude, err = strconv.ParseFloat(s, 64); err != nil {
			return info, err
		}
	}
	if s := col(5); s != "" {
		if info.Longitude, err = strconv.ParseFloat(s, 64); err != nil {
			return info, err
		}
	}
	if s := strings.TrimPrefix(strings.ToUpper(col(7)), "AS"); s != "" {
		asn, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return info, err
		}
		info.ASN = uint32(asn)
	}
	return info, nil
}

// DecodeCalendar reads "start,end,label" records with RFC 3339 times
func DecodeCalendar(r io.Reader, opts CSVOptions) (*dataset.Calendar, int, error) {
	c := dataset.NewCalendar()
	skipped := 0
	err := readRecords(r, opts, func(rec []string) error {
		if len(rec) < 3 {
			skipped++
			return nil
		}
		start, err1 := time.Parse(time.RFC3339, rec[0])
		end, err2 := time.Parse(time.RFC3339, rec[1])
		if err1 != nil || err2 != nil {
			skipped++
			return nil
		}
		if err := c.Insert(start, end, rec[2]); err != nil {
			skipped++
		}
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	return c, skipped, nil
}

// DecodeI18n reads a YAML document mapping keys to language/text maps:
//
//	brute-force:
//	  en: Repeated login failures
//	  es: Fallos de inicio de sesión repetidos
func DecodeI18n(r io.Reader) (*dataset.I18n, int, error) {
	var doc map[string]map[string]string
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("failed to parse i18n YAML: %w", err)
	}
	d := dataset.NewI18n()
	for key, texts := range doc {
		for lang, text := range texts {
			d.Insert(key, core.Language(lang), text)
		}
	}
	return d, 0, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
