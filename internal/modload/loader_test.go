package modload

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildTestELF writes a minimal little-endian ELF64 executable to dir: one
// PT_LOAD segment carrying payload at vaddr, plus a .manifest section whose
// body is manifestJSON. It returns the file's path.
func buildTestELF(t *testing.T, dir string, vaddr uint64, payload []byte, manifestJSON string) string {
	t.Helper()

	const (
		ehdrSize  = 64
		phdrSize  = 56
		shdrSize  = 64
		nameShstr = 1 // offset of ".manifest\0" within .shstrtab, after leading NUL
	)

	phdrOff := uint64(ehdrSize)
	dataOff := phdrOff + phdrSize // one program header
	dataOff = align8(dataOff)
	manifestOff := dataOff + uint64(len(payload))
	manifestOff = align8(manifestOff)
	shstrtab := append([]byte{0}, []byte(".manifest\x00.shstrtab\x00")...)
	shstrOff := manifestOff + uint64(len(manifestJSON))
	shstrOff = align8(shstrOff)
	shOff := shstrOff + uint64(len(shstrtab))
	shOff = align8(shOff)

	buf := make([]byte, shOff+3*shdrSize)

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(buf[16:18], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:20], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:24], 1) // e_version
	le.PutUint64(buf[24:32], vaddr)
	le.PutUint64(buf[32:40], phdrOff)
	le.PutUint64(buf[40:48], shOff)
	le.PutUint32(buf[48:52], 0) // e_flags
	le.PutUint16(buf[52:54], ehdrSize)
	le.PutUint16(buf[54:56], phdrSize)
	le.PutUint16(buf[56:58], 1) // e_phnum
	le.PutUint16(buf[58:60], shdrSize)
	le.PutUint16(buf[60:62], 3) // e_shnum: null, .manifest, .shstrtab
	le.PutUint16(buf[62:64], 2) // e_shstrndx

	// program header: PT_LOAD, R+W
	ph := buf[phdrOff:]
	le.PutUint32(ph[0:4], uint32(elf.PT_LOAD))
	le.PutUint32(ph[4:8], uint32(elf.PF_R|elf.PF_W))
	le.PutUint64(ph[8:16], dataOff)
	le.PutUint64(ph[16:24], vaddr)
	le.PutUint64(ph[24:32], vaddr)
	le.PutUint64(ph[32:40], uint64(len(payload)))
	le.PutUint64(ph[40:48], uint64(len(payload)))
	le.PutUint64(ph[48:56], 0x1000)

	copy(buf[dataOff:], payload)
	copy(buf[manifestOff:], manifestJSON)
	copy(buf[shstrOff:], shstrtab)

	// section headers: [0] null, [1] .manifest, [2] .shstrtab
	// ELF64 Shdr layout: name(0:4) type(4:8) flags(8:16) addr(16:24)
	// offset(24:32) size(32:40) link(40:44) info(44:48) addralign(48:56)
	// entsize(56:64).
	sh := buf[shOff:]
	// section 1: .manifest
	s1 := sh[shdrSize:]
	le.PutUint32(s1[0:4], 1) // name offset into shstrtab (".manifest")
	le.PutUint32(s1[4:8], uint32(elf.SHT_PROGBITS))
	le.PutUint64(s1[24:32], manifestOff)
	le.PutUint64(s1[32:40], uint64(len(manifestJSON)))
	// section 2: .shstrtab
	s2 := sh[2*shdrSize:]
	le.PutUint32(s2[0:4], uint32(nameShstr+len(".manifest\x00")))
	le.PutUint32(s2[4:8], uint32(elf.SHT_STRTAB))
	le.PutUint64(s2[24:32], shstrOff)
	le.PutUint64(s2[32:40], uint64(len(shstrtab)))

	path := filepath.Join(dir, "module.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writing test ELF: %v", err)
	}
	return path
}

func align8(n uint64) uint64 {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

func TestLoadParsesManifestAndImage(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"ModuleName":"greet","SymbolTable":[{"Name":"hello","Offset":0,"Visibility":1,"ABI":0}]}`
	payload := []byte("hello-module-bytes")
	path := buildTestELF(t, dir, 0x400000, payload, manifest)

	m, err := Load(path, map[string]ModuleFunc{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Name() != "greet" {
		t.Fatalf("Name() = %q, want greet", m.Name())
	}
	off, err := m.Offset("hello")
	if err != nil {
		t.Fatalf("Offset: %v", err)
	}
	if off != 0 {
		t.Fatalf("Offset(hello) = %d, want 0", off)
	}
	if len(m.Image()) != 1 {
		t.Fatalf("Image() len = %d, want 1", len(m.Image()))
	}
	seg := m.Image()[0]
	if !seg.Flags.Present {
		t.Fatalf("segment not marked present")
	}
	if !seg.Writable {
		t.Fatalf("segment should be writable (PF_W set)")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.elf"), nil); err == nil {
		t.Fatalf("Load of nonexistent file: want error, got nil")
	}
}

func TestLoadRejectsUnparseableManifest(t *testing.T) {
	dir := t.TempDir()
	path := buildTestELF(t, dir, 0x400000, []byte("x"), "{not json")
	if _, err := Load(path, nil); err == nil {
		t.Fatalf("Load with malformed manifest JSON: want error, got nil")
	}
}
