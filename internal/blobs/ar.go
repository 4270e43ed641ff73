package blobs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
	arNameSize   = 16
	arFileMode   = 0o644
	bsdLongName  = "#1/"
)

// Member is one file inside an ar archive.
type Member struct {
	Name string
	Data []byte
}

// WriteArchive writes members as a deterministic ar archive: mtime, uid and
// gid are zero and mode is fixed, so identical inputs yield identical bytes.
// Names longer than 16 bytes or containing spaces use the BSD "#1/len"
// extension.
func WriteArchive(w io.Writer, members []Member) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(arMagic); err != nil {
		return err
	}

	for _, m := range members {
		if m.Name == "" {
			return fmt.Errorf("ar member with empty name")
		}

		ident := m.Name
		var inline []byte
		if len(m.Name) > arNameSize || strings.ContainsRune(m.Name, ' ') {
			ident = bsdLongName + strconv.Itoa(len(m.Name))
			inline = []byte(m.Name)
		}
		size := len(inline) + len(m.Data)

		header := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d`\n", ident, 0, 0, 0, arFileMode, size)
		if len(header) != arHeaderSize {
			return fmt.Errorf("ar header for %q overflows (%d bytes)", m.Name, len(header))
		}
		if _, err := bw.WriteString(header); err != nil {
			return err
		}
		if _, err := bw.Write(inline); err != nil {
			return err
		}
		if _, err := bw.Write(m.Data); err != nil {
			return err
		}
		if size%2 == 1 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
