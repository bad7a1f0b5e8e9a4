// Package rom provides an in-memory paged image, a free-space allocator over
// it that satisfies placement.Allocator, and readers for the pointer tables
// written into it.
package rom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
)

// ErrOutOfRange indicates an access past the end of the image.
var ErrOutOfRange = errors.New("address out of range")

// Image is a fixed-size binary image divided into pages. An Image is not
// safe for concurrent writes; Allocator serializes its own.
type Image struct {
	data     []byte
	pageSize int
}

// NewImage wraps data. The image never grows.
func NewImage(data []byte, pageSize int) (*Image, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("rom: invalid page size %d", pageSize)
	}
	if len(data)%pageSize != 0 {
		return nil, fmt.Errorf("rom: image size %#x is not a multiple of the page size %#x", len(data), pageSize)
	}
	return &Image{data: data, pageSize: pageSize}, nil
}

// Load reads an image from path.
func Load(path string, pageSize int) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rom: %w", err)
	}
	return NewImage(data, pageSize)
}

// Save writes the image to path.
func (im *Image) Save(path string) error {
	if err := os.WriteFile(path, im.data, 0o644); err != nil {
		return fmt.Errorf("rom: %w", err)
	}
	return nil
}

// Bytes returns the image contents.
func (im *Image) Bytes() []byte { return im.data }

func (im *Image) Len() int { return len(im.data) }

func (im *Image) PageSize() int { return im.pageSize }

// Pages returns the number of pages.
func (im *Image) Pages() int { return len(im.data) / im.pageSize }

// Page returns the page holding addr.
func (im *Image) Page(addr placement.Address) int { return int(addr) / im.pageSize }

func (im *Image) check(addr placement.Address, n int) error {
	if int(addr)+n > len(im.data) {
		return fmt.Errorf("%w: %#x+%d (image is %#x bytes)", ErrOutOfRange, addr, n, len(im.data))
	}
	return nil
}

// Write copies data to addr.
func (im *Image) Write(addr placement.Address, data []byte) error {
	if err := im.check(addr, len(data)); err != nil {
		return err
	}
	copy(im.data[addr:], data)
	return nil
}

// Read returns the n bytes at addr. The slice aliases the image.
func (im *Image) Read(addr placement.Address, n int) ([]byte, error) {
	if err := im.check(addr, n); err != nil {
		return nil, err
	}
	return im.data[addr : int(addr)+n], nil
}

// WriteUint16 writes a little-endian 16-bit value. It makes *Image a
// placement.Patcher.
func (im *Image) WriteUint16(addr placement.Address, v uint16) error {
	if err := im.check(addr, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(im.data[addr:], v)
	return nil
}

// ReadUint16 reads a little-endian 16-bit value.
func (im *Image) ReadUint16(addr placement.Address) (uint16, error) {
	if err := im.check(addr, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(im.data[addr:]), nil
}

// Resolve maps a pointer into the page-mapped window at org back to an image
// address in page.
func (im *Image) Resolve(ptr uint16, page int, org uint16) (placement.Address, error) {
	off := int(ptr) - int(org)
	if off < 0 || off >= im.pageSize {
		return 0, fmt.Errorf("%w: pointer $%04x outside window $%04x", ErrOutOfRange, ptr, org)
	}
	addr := placement.Address(page*im.pageSize + off)
	if err := im.check(addr, 1); err != nil {
		return 0, err
	}
	return addr, nil
}

// ReadMessage returns the encoded message at addr, terminator included.
func (im *Image) ReadMessage(addr placement.Address) ([]byte, error) {
	if err := im.check(addr, 1); err != nil {
		return nil, err
	}
	n, err := msgtext.Len(im.data[addr:])
	if err != nil {
		return nil, fmt.Errorf("message at %#x: %w", addr, err)
	}
	return im.data[addr : int(addr)+n], nil
}

// ReadString returns the NUL-terminated string at addr without its
// terminator.
func (im *Image) ReadString(addr placement.Address) (string, error) {
	if err := im.check(addr, 1); err != nil {
		return "", err
	}
	for i := int(addr); i < len(im.data); i++ {
		if im.data[i] == 0 {
			return string(im.data[addr:i]), nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at %#x", ErrOutOfRange, addr)
}
