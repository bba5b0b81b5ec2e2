package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/n0remac/p2pcall/internal/b64"
)

type parsedChunk struct {
	packetID   string
	partIndex  int
	partTotal  int
	payload    string
}

// parseChunkLine parses one "P2PV1|packetId|i/N|payload" line.
func parseChunkLine(line string) (parsedChunk, error) {
	fields := strings.SplitN(line, "|", 4)
	if len(fields) != 4 {
		return parsedChunk{}, fmt.Errorf("envelope: malformed chunk %q", line)
	}
	if fields[0] != ChunkPrefix {
		return parsedChunk{}, fmt.Errorf("envelope: unknown chunk prefix %q", fields[0])
	}
	packetID := fields[1]
	if _, err := hex.DecodeString(packetID); len(packetID) != 16 || err != nil {
		return parsedChunk{}, fmt.Errorf("envelope: packet id %q must be 16 hex characters", packetID)
	}
	idxTotal := strings.SplitN(fields[2], "/", 2)
	if len(idxTotal) != 2 {
		return parsedChunk{}, fmt.Errorf("envelope: malformed part index %q", fields[2])
	}
	idx, err := strconv.Atoi(idxTotal[0])
	if err != nil || idx < 1 {
		return parsedChunk{}, fmt.Errorf("envelope: invalid part index %q", idxTotal[0])
	}
	total, err := strconv.Atoi(idxTotal[1])
	if err != nil || total < 1 || total > MaxChunks {
		return parsedChunk{}, fmt.Errorf("envelope: invalid part total %q", idxTotal[1])
	}
	if idx > total {
		return parsedChunk{}, fmt.Errorf("envelope: part index %d exceeds total %d", idx, total)
	}
	if len(fields[3]) > MaxChunkPayload {
		return parsedChunk{}, fmt.Errorf("envelope: chunk payload exceeds %d characters", MaxChunkPayload)
	}
	return parsedChunk{packetID: packetID, partIndex: idx, partTotal: total, payload: fields[3]}, nil
}

// reassemble parses, deduplicates and orders chunks, then concatenates the
// payload (spec §4.2, §6). Receivers must tolerate duplicate and
// unordered chunks; any other structural mismatch is rejected.
func reassemble(text string) (string, error) {
	if len(text) > MaxPacketTextLen {
		return "", fmt.Errorf("Packet text is too large.")
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	byIndex := make(map[int]parsedChunk)
	var packetID string
	var total int

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c, err := parseChunkLine(line)
		if err != nil {
			return "", err
		}
		if packetID == "" {
			packetID = c.packetID
			total = c.partTotal
		} else if c.packetID != packetID {
			return "", fmt.Errorf("envelope: chunk belongs to a different packet id")
		} else if c.partTotal != total {
			return "", fmt.Errorf("envelope: chunk reports a different part total")
		}
		byIndex[c.partIndex] = c // dedup by index: later duplicate wins, contents must agree in practice
	}

	if packetID == "" {
		return "", fmt.Errorf("envelope: no chunks found")
	}
	if total > MaxChunks {
		return "", fmt.Errorf("envelope: packet declares more than %d chunks", MaxChunks)
	}
	if len(byIndex) != total {
		return "", fmt.Errorf("envelope: expected %d distinct chunks, got %d", total, len(byIndex))
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i+1 {
			return "", fmt.Errorf("envelope: missing chunk index %d", i+1)
		}
	}

	var b strings.Builder
	for _, idx := range indices {
		b.WriteString(byIndex[idx].payload)
	}
	return b.String(), nil
}

// Decode reverses Encode: reassembles chunks, enforces size caps,
// decompresses, parses and validates the envelope, and checks its time
// window (spec §4.2).
func Decode(text string) (Envelope, error) {
	encoded, err := reassemble(text)
	if err != nil {
		return Envelope{}, err
	}

	compressed, err := b64.URLDecode(encoded)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: payload is not valid base64: %w", err)
	}
	if len(compressed) > MaxCompressedBytes {
		return Envelope{}, fmt.Errorf("envelope: compressed payload exceeds %d bytes", MaxCompressedBytes)
	}

	envelopeJSON, err := gzipDecompress(compressed, MaxDecompressedLen)
	if err != nil {
		return Envelope{}, err
	}

	var e Envelope
	if err := json.Unmarshal(envelopeJSON, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: invalid envelope JSON: %w", err)
	}

	if err := validateEnvelopeShape(e); err != nil {
		return Envelope{}, err
	}

	return e, nil
}
