// Package annindex maintains the approximate-nearest-neighbor index over
// sample embeddings: an in-memory proximity graph plus a single-file on-disk
// container with a checksum. It also migrates the legacy multi-file layout
// older releases wrote.
package annindex

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"samplib/internal/fileutil"
)

const (
	containerMagic   = "SANNIDX1"
	containerVersion = 1
	checksumLen      = sha256.Size

	// magic + version + header_len + model_id_len + reserved +
	// three (offset, length) u64 pairs + checksum.
	containerHeaderLen = 8 + 4 + 4 + 4 + 4 + 8*6 + checksumLen
)

// ErrCorrupt marks any container that fails structural or checksum
// validation. Callers treat it as "rebuild or migrate", never as fatal.
var ErrCorrupt = errors.New("ann container corrupt")

// Container is the decoded payload of a single-file index snapshot.
type Container struct {
	ModelID string
	Graph   []byte
	Data    []byte
	IDMap   []string
}

type containerHeader struct {
	modelIDLen  uint32
	graphOffset uint64
	graphLen    uint64
	dataOffset  uint64
	dataLen     uint64
	idMapOffset uint64
	idMapLen    uint64
	checksum    [checksumLen]byte
}

// WriteContainer serializes the container to path atomically. The checksum
// covers model id, graph, data, and id-map bytes in that order.
func WriteContainer(path string, c *Container) error {
	idMapBytes, err := json.Marshal(c.IDMap)
	if err != nil {
		return fmt.Errorf("encode ann id map: %w", err)
	}
	modelID := []byte(c.ModelID)

	header := newContainerHeader(len(modelID), len(c.Graph), len(c.Data), len(idMapBytes))
	hasher := sha256.New()
	hasher.Write(modelID)
	hasher.Write(c.Graph)
	hasher.Write(c.Data)
	hasher.Write(idMapBytes)
	copy(header.checksum[:], hasher.Sum(nil))

	return fileutil.WriteAtomic(path, func(f *os.File) error {
		if _, err := f.Write(header.encode()); err != nil {
			return err
		}
		for _, block := range [][]byte{modelID, c.Graph, c.Data, idMapBytes} {
			if _, err := f.Write(block); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadContainer loads and validates a container. Structural damage and
// checksum mismatches both return ErrCorrupt.
func ReadContainer(path string) (*Container, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	header, err := parseContainerHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := header.validate(uint64(len(raw))); err != nil {
		return nil, err
	}

	modelID := raw[containerHeaderLen : containerHeaderLen+int(header.modelIDLen)]
	graph := raw[header.graphOffset : header.graphOffset+header.graphLen]
	data := raw[header.dataOffset : header.dataOffset+header.dataLen]
	idMapBytes := raw[header.idMapOffset : header.idMapOffset+header.idMapLen]

	hasher := sha256.New()
	hasher.Write(modelID)
	hasher.Write(graph)
	hasher.Write(data)
	hasher.Write(idMapBytes)
	if !bytes.Equal(hasher.Sum(nil), header.checksum[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var idMap []string
	if err := json.Unmarshal(idMapBytes, &idMap); err != nil {
		return nil, fmt.Errorf("%w: id map: %v", ErrCorrupt, err)
	}
	return &Container{
		ModelID: string(modelID),
		Graph:   append([]byte(nil), graph...),
		Data:    append([]byte(nil), data...),
		IDMap:   idMap,
	}, nil
}

func newContainerHeader(modelIDLen, graphLen, dataLen, idMapLen int) containerHeader {
	graphOffset := uint64(containerHeaderLen) + uint64(modelIDLen)
	dataOffset := graphOffset + uint64(graphLen)
	idMapOffset := dataOffset + uint64(dataLen)
	return containerHeader{
		modelIDLen:  uint32(modelIDLen),
		graphOffset: graphOffset,
		graphLen:    uint64(graphLen),
		dataOffset:  dataOffset,
		dataLen:     uint64(dataLen),
		idMapOffset: idMapOffset,
		idMapLen:    uint64(idMapLen),
	}
}

func (h containerHeader) encode() []byte {
	buf := make([]byte, 0, containerHeaderLen)
	buf = append(buf, containerMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, containerVersion)
	buf = binary.LittleEndian.AppendUint32(buf, containerHeaderLen)
	buf = binary.LittleEndian.AppendUint32(buf, h.modelIDLen)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // reserved
	buf = binary.LittleEndian.AppendUint64(buf, h.graphOffset)
	buf = binary.LittleEndian.AppendUint64(buf, h.graphLen)
	buf = binary.LittleEndian.AppendUint64(buf, h.dataOffset)
	buf = binary.LittleEndian.AppendUint64(buf, h.dataLen)
	buf = binary.LittleEndian.AppendUint64(buf, h.idMapOffset)
	buf = binary.LittleEndian.AppendUint64(buf, h.idMapLen)
	buf = append(buf, h.checksum[:]...)
	return buf
}

func parseContainerHeader(raw []byte) (containerHeader, error) {
	var h containerHeader
	if len(raw) < 16 {
		return h, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if string(raw[:8]) != containerMagic {
		return h, fmt.Errorf("%w: magic mismatch", ErrCorrupt)
	}
	if version := binary.LittleEndian.Uint32(raw[8:12]); version != containerVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	headerLen := binary.LittleEndian.Uint32(raw[12:16])
	if headerLen < containerHeaderLen || int(headerLen) > len(raw) {
		return h, fmt.Errorf("%w: header length %d", ErrCorrupt, headerLen)
	}

	r := bytes.NewReader(raw[16:headerLen])
	var reserved uint32
	for _, field := range []any{
		&h.modelIDLen, &reserved,
		&h.graphOffset, &h.graphLen,
		&h.dataOffset, &h.dataLen,
		&h.idMapOffset, &h.idMapLen,
	} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return h, fmt.Errorf("%w: header fields", ErrCorrupt)
		}
	}
	if _, err := io.ReadFull(r, h.checksum[:]); err != nil {
		return h, fmt.Errorf("%w: checksum field", ErrCorrupt)
	}
	return h, nil
}

func (h containerHeader) validate(fileLen uint64) error {
	if h.graphOffset != uint64(containerHeaderLen)+uint64(h.modelIDLen) {
		return fmt.Errorf("%w: graph offset misplaced", ErrCorrupt)
	}
	// Bound every block before any offset+length arithmetic; corrupt
	// 64-bit fields must not be allowed to wrap.
	for _, block := range []struct {
		name        string
		offset, len uint64
	}{
		{"graph", h.graphOffset, h.graphLen},
		{"data", h.dataOffset, h.dataLen},
		{"id map", h.idMapOffset, h.idMapLen},
	} {
		if block.offset > fileLen || block.len > fileLen-block.offset {
			return fmt.Errorf("%w: %s block out of bounds", ErrCorrupt, block.name)
		}
	}
	if h.graphOffset+h.graphLen > h.dataOffset {
		return fmt.Errorf("%w: graph overlaps data", ErrCorrupt)
	}
	if h.dataOffset+h.dataLen > h.idMapOffset {
		return fmt.Errorf("%w: data overlaps id map", ErrCorrupt)
	}
	return nil
}
