package machinetest

import (
	"os"
	"path/filepath"

	"github.com/alessio/shellescape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register(Suite{
		Name: "filesystem",
		Cases: []CaseDef{
			{Name: "write file", Run: doWriteFileTest},
			{Name: "restore file", Run: doRestoreFileTest},
			{Name: "sed file", Run: doSedFileTest},
			{Name: "upload and download", Run: doUploadDownloadTest},
		},
	})
}

func doWriteFileTest(c *Case) {
	const path = "/tmp/machtest-write-check"
	c.WriteFile(path, "first line\nsecond line\n")

	out := c.Execute("cat " + shellescape.Quote(path))
	assert.Equal(c, "first line\nsecond line\n", out)
}

func doRestoreFileTest(c *Case) {
	const path = "/tmp/machtest-restore-check"
	c.WriteFile(path, "original content\n")
	c.RestoreFile(path)

	c.Execute("echo clobbered > " + shellescape.Quote(path))
	out := c.Execute("cat " + shellescape.Quote(path))
	assert.Equal(c, "clobbered\n", out)
	// the registered restore runs during cleanup and puts the snapshot back
	// before WriteFile's own cleanup removes the file again
}

func doSedFileTest(c *Case) {
	const path = "/tmp/machtest-sed-check"
	c.WriteFile(path, "foo=1\n")
	c.SedFile(path, "foo", "bar")

	out := c.Execute("cat " + shellescape.Quote(path))
	assert.Equal(c, "bar=1\n", out)
}

func doUploadDownloadTest(c *Case) {
	scratch, err := os.MkdirTemp("", "machtest")
	require.NoError(c, err)
	c.Cleanup(func() error { return os.RemoveAll(scratch) })

	local := filepath.Join(scratch, "payload.txt")
	require.NoError(c, os.WriteFile(local, []byte("round trip\n"), 0o644))

	c.Upload([]string{local}, "/tmp")
	c.Cleanup(func() error {
		_, err := c.Machine().Execute("rm -f /tmp/payload.txt")
		return err
	})

	fetched := filepath.Join(scratch, "fetched.txt")
	c.Download("/tmp/payload.txt", fetched)

	data, err := os.ReadFile(fetched)
	require.NoError(c, err)
	assert.Equal(c, "round trip\n", string(data))
}
