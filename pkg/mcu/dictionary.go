package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"mculink-host/pkg/protocol"
)

// FetchDictionary retrieves the device's data dictionary blob with repeated
// identify exchanges: offset and chunk size out, offset, length and data
// back. The loop ends on an empty chunk (discarded), on a chunk shorter
// than requested (kept), or when retries are exhausted on a timeout. In
// every case the bytes accumulated so far are returned. Only a transport
// failure yields an error.
func (s *Session) FetchDictionary() ([]byte, error) {
	var blob []byte
	offset := 0
	for {
		params := protocol.AppendInt(nil, int32(offset))
		params = protocol.AppendInt(params, int32(s.cfg.ChunkSize))

		resp, err := s.roundtripRetry(CmdIdentify, params)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				s.log.Warn().
					Int("offset", offset).
					Int("have", len(blob)).
					Msg("dictionary fetch timed out, returning partial blob")
				return blob, nil
			}
			return blob, err
		}

		respOffset, data, err := parseIdentifyChunk(resp.Payload)
		if err != nil {
			s.stats.ShortChunk()
			s.log.Warn().
				Err(err).
				Hex("payload", resp.Payload).
				Msg("malformed dictionary chunk, stopping fetch")
			return blob, nil
		}
		if respOffset != offset {
			s.log.Warn().
				Int("want", offset).
				Int("got", respOffset).
				Msg("dictionary chunk offset mismatch")
		}
		if len(data) == 0 {
			return blob, nil
		}
		blob = append(blob, data...)
		offset += len(data)
		if len(data) < s.cfg.ChunkSize {
			return blob, nil
		}
	}
}

// roundtripRetry retransmits on timeout with exponential backoff, up to
// MaxRetries extra attempts.
func (s *Session) roundtripRetry(cmd int32, params []byte) (*Response, error) {
	delay := s.cfg.RetryDelay
	var resp *Response
	var err error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.stats.ExchangeRetried()
			time.Sleep(delay)
			delay *= 2
		}
		resp, err = s.Roundtrip(cmd, params, 0)
		if err == nil || !errors.Is(err, ErrTimeout) {
			return resp, err
		}
	}
	return nil, err
}

// parseIdentifyChunk unpacks VLQ(offset) ++ VLQ(length) ++ data.
func parseIdentifyChunk(payload []byte) (offset int, data []byte, err error) {
	off, n, err := protocol.DecodeInt(payload, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("chunk offset: %w", err)
	}
	length, n, err := protocol.DecodeInt(payload, n)
	if err != nil {
		return 0, nil, fmt.Errorf("chunk length: %w", err)
	}
	if length < 0 || n+int(length) > len(payload) {
		return 0, nil, fmt.Errorf("chunk length %d exceeds payload", length)
	}
	return int(off), payload[n : n+int(length)], nil
}

// Dictionary is the decoded data dictionary: the device's command and
// response tables plus its build metadata.
type Dictionary struct {
	Version       string
	BuildVersions string
	Config        map[string]any
	Commands      map[string]int
	Responses     map[string]int
	Output        map[string]int
	Enumerations  map[string]map[string]int
}

// ParseDictionary decodes a fetched blob: optional zlib wrapping (detected
// by the 0x78 header) around a JSON dictionary document.
func ParseDictionary(blob []byte) (*Dictionary, error) {
	if len(blob) == 0 {
		return nil, errors.New("mcu: empty dictionary blob")
	}
	raw := blob
	if blob[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(blob))
		if err != nil {
			return nil, fmt.Errorf("mcu: dictionary zlib: %w", err)
		}
		defer r.Close()
		raw, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("mcu: dictionary decompress: %w", err)
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mcu: dictionary json: %w", err)
	}

	d := &Dictionary{
		Config:       map[string]any{},
		Commands:     map[string]int{},
		Responses:    map[string]int{},
		Output:       map[string]int{},
		Enumerations: map[string]map[string]int{},
	}
	if v, ok := doc["version"].(string); ok {
		d.Version = v
	}
	if v, ok := doc["build_versions"].(string); ok {
		d.BuildVersions = v
	}
	if cfg, ok := doc["config"].(map[string]any); ok {
		d.Config = cfg
	}
	if err := decodeIDMap(d.Commands, doc["commands"]); err != nil {
		return nil, fmt.Errorf("mcu: dictionary commands: %w", err)
	}
	if err := decodeIDMap(d.Responses, doc["responses"]); err != nil {
		return nil, fmt.Errorf("mcu: dictionary responses: %w", err)
	}
	if err := decodeIDMap(d.Output, doc["output"]); err != nil {
		return nil, fmt.Errorf("mcu: dictionary output: %w", err)
	}
	if err := decodeEnums(d.Enumerations, doc["enumerations"]); err != nil {
		return nil, fmt.Errorf("mcu: dictionary enumerations: %w", err)
	}
	return d, nil
}

// CommandID looks up a command by its format string's leading word.
func (d *Dictionary) CommandID(name string) (int, bool) {
	for format, id := range d.Commands {
		if formatName(format) == name {
			return id, true
		}
	}
	return 0, false
}

// ResponseName resolves a response id back to its message name.
func (d *Dictionary) ResponseName(id int) (string, bool) {
	for format, fid := range d.Responses {
		if fid == id {
			return formatName(format), true
		}
	}
	return "", false
}

// formatName strips the parameter list from a message format string, e.g.
// "identify_response offset=%u data=%.*s" -> "identify_response".
func formatName(format string) string {
	for i := 0; i < len(format); i++ {
		if format[i] == ' ' {
			return format[:i]
		}
	}
	return format
}

func decodeIDMap(dst map[string]int, v any) error {
	if v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return errors.New("expected object")
	}
	for k, vv := range m {
		id, ok := vv.(float64)
		if !ok {
			return fmt.Errorf("bad id for %q: %T", k, vv)
		}
		dst[k] = int(id)
	}
	return nil
}

// decodeEnums accepts both plain values and [start,count] ranges; a range
// on a key with a numeric suffix expands to count consecutive entries, e.g.
// "PA3": [35, 5] -> PA3..PA7 = 35..39.
func decodeEnums(dst map[string]map[string]int, v any) error {
	if v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return errors.New("expected object")
	}
	for enumName, vv := range m {
		entries, ok := vv.(map[string]any)
		if !ok {
			return fmt.Errorf("enumeration %q: expected object", enumName)
		}
		sub := dst[enumName]
		if sub == nil {
			sub = map[string]int{}
			dst[enumName] = sub
		}
		for key, val := range entries {
			switch tv := val.(type) {
			case float64:
				sub[key] = int(tv)
			case []any:
				if len(tv) != 2 {
					return fmt.Errorf("enumeration %q: bad range %s=%v", enumName, key, tv)
				}
				start, ok1 := tv[0].(float64)
				count, ok2 := tv[1].(float64)
				if !ok1 || !ok2 {
					return fmt.Errorf("enumeration %q: bad range types for %s", enumName, key)
				}
				root := key
				for len(root) > 0 && root[len(root)-1] >= '0' && root[len(root)-1] <= '9' {
					root = root[:len(root)-1]
				}
				first := 0
				if len(root) != len(key) {
					n, err := strconv.Atoi(key[len(root):])
					if err != nil {
						return fmt.Errorf("enumeration %q: bad range suffix %s", enumName, key)
					}
					first = n
				}
				for i := 0; i < int(count); i++ {
					sub[fmt.Sprintf("%s%d", root, first+i)] = int(start) + i
				}
			default:
				return fmt.Errorf("enumeration %q: bad value for %s: %T", enumName, key, val)
			}
		}
	}
	return nil
}
