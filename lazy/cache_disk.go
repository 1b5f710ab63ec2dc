package lazy

import (
	"crypto/sha1"
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// diskCache is the optional persistent tier under Cache. Entries are
// sha1-sharded files with a 4-byte width/height header followed by the
// encoded image. Writes go through a temp file and rename; pruning removes
// the oldest entries (by mtime, refreshed on read) once the byte budget is
// exceeded. A nil *diskCache is inert.
type diskCache struct {
	dir string
	max int64
	mu  sync.Mutex // serializes prune
}

func newDiskCache(dir string, max int64) *diskCache {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	return &diskCache{dir: dir, max: max}
}

func (d *diskCache) key(url string) (string, string) {
	h := sha1.Sum([]byte(url))
	hex := make([]byte, 40)
	const hexd = "0123456789abcdef"
	for i, b := range h[:] {
		hex[i*2] = hexd[b>>4]
		hex[i*2+1] = hexd[b&0xF]
	}
	dir := filepath.Join(d.dir, string(hex[0]), string(hex[1]))
	return dir, filepath.Join(dir, string(hex)+".bin")
}

func (d *diskCache) get(url string) ([]byte, int, int, bool) {
	if d == nil {
		return nil, 0, 0, false
	}
	_, path := d.key(url)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, false
	}
	defer f.Close()
	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, 0, 0, false
	}
	w := int(binary.BigEndian.Uint16(header[0:2]))
	h := int(binary.BigEndian.Uint16(header[2:4]))
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, 0, false
	}
	_ = os.Chtimes(path, time.Now(), time.Now())
	return b, w, h, true
}

func (d *diskCache) put(url string, data []byte, w, h int) {
	if d == nil {
		return
	}
	dir, path := d.key(url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(w))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(h))
	_, _ = f.Write(hdr[:])
	_, _ = f.Write(data)
	_ = f.Close()
	_ = os.Rename(tmp, path)
	go d.prune()
}

func (d *diskCache) has(url string) bool {
	if d == nil {
		return false
	}
	_, path := d.key(url)
	_, err := os.Stat(path)
	return err == nil
}

func (d *diskCache) dims(url string) (int, int, bool) {
	if d == nil {
		return 0, 0, false
	}
	_, path := d.key(url)
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	header := make([]byte, 4)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint16(header[0:2])), int(binary.BigEndian.Uint16(header[2:4])), true
}

func (d *diskCache) prune() {
	if d == nil || d.max <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var files []struct {
		p  string
		sz int64
		mt time.Time
	}
	var total int64
	filepath.WalkDir(d.dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if de.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(p), ".bin") {
			return nil
		}
		if info, e := de.Info(); e == nil {
			files = append(files, struct {
				p  string
				sz int64
				mt time.Time
			}{p, info.Size(), info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if total <= d.max {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mt.Before(files[j].mt) })
	for _, f := range files {
		if total <= d.max {
			break
		}
		_ = os.Remove(f.p)
		total -= f.sz
	}
}
