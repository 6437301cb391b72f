package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"time"
)

const (
	commitMagic   uint32 = 0x53504458
	commitVersion uint32 = 2
	headerSize           = 64
	footerSize           = 8
)

// commitFile is one durable generation of the index: every live document
// plus the user data supplied to Commit.
type commitFile struct {
	Generation uint64
	CreatedAt  time.Time
	Docs       []*Document
	UserData   map[string]string
}

// writeCommit atomically writes c to path via a .tmp file and rename.
func writeCommit(path string, c *commitFile) error {
	docsData, err := json.Marshal(c.Docs)
	if err != nil {
		return fmt.Errorf("marshaling documents: %w", err)
	}
	userData := c.UserData
	if userData == nil {
		userData = map[string]string{}
	}
	metaData, err := json.Marshal(userData)
	if err != nil {
		return fmt.Errorf("marshaling commit user data: %w", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], commitMagic)
	binary.LittleEndian.PutUint32(header[4:8], commitVersion)
	binary.LittleEndian.PutUint64(header[8:16], c.Generation)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(c.Docs)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(c.CreatedAt.Unix()))
	binary.LittleEndian.PutUint64(header[32:40], uint64(headerSize))
	binary.LittleEndian.PutUint64(header[40:48], uint64(len(docsData)))
	binary.LittleEndian.PutUint64(header[48:56], uint64(headerSize+len(docsData)))
	binary.LittleEndian.PutUint64(header[56:64], uint64(len(metaData)))

	crc := crc32.NewIEEE()
	crc.Write(docsData)
	crc.Write(metaData)
	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(c.Docs)))

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp commit file: %w", err)
	}
	defer f.Close()
	for _, part := range [][]byte{header, docsData, metaData, footer} {
		if _, err := f.Write(part); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("writing commit file: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing commit file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming commit file: %w", err)
	}
	return nil
}

func readCommit(path string) (*commitFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading commit file: %w", err)
	}
	if len(data) < headerSize+footerSize {
		return nil, fmt.Errorf("%w: %s is truncated", ErrCorruptCommit, path)
	}
	header := data[:headerSize]
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != commitMagic {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorruptCommit, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != commitVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptCommit, v)
	}
	docsOff := binary.LittleEndian.Uint64(header[32:40])
	docsSize := binary.LittleEndian.Uint64(header[40:48])
	metaOff := binary.LittleEndian.Uint64(header[48:56])
	metaSize := binary.LittleEndian.Uint64(header[56:64])
	end := metaOff + metaSize
	if docsOff+docsSize > metaOff || end+footerSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: section offsets out of range", ErrCorruptCommit)
	}
	docsData := data[docsOff : docsOff+docsSize]
	metaData := data[metaOff:end]
	footer := data[end:]

	crc := crc32.NewIEEE()
	crc.Write(docsData)
	crc.Write(metaData)
	if sum := binary.LittleEndian.Uint32(footer[0:4]); sum != crc.Sum32() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptCommit)
	}

	c := &commitFile{
		Generation: binary.LittleEndian.Uint64(header[8:16]),
		CreatedAt:  time.Unix(int64(binary.LittleEndian.Uint64(header[24:32])), 0),
	}
	if err := json.Unmarshal(docsData, &c.Docs); err != nil {
		return nil, fmt.Errorf("parsing commit documents: %w", err)
	}
	if err := json.Unmarshal(metaData, &c.UserData); err != nil {
		return nil, fmt.Errorf("parsing commit user data: %w", err)
	}
	if uint32(len(c.Docs)) != binary.LittleEndian.Uint32(header[16:20]) {
		return nil, fmt.Errorf("%w: document count mismatch", ErrCorruptCommit)
	}
	return c, nil
}
