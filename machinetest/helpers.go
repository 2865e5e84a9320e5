package machinetest

import (
	"fmt"
	"path"
	"strings"

	"github.com/alessio/shellescape"

	"machtest/machine"
)

// WriteFile materializes a file with the given content on the target and
// removes it again during cleanup.
func (c *Case) WriteFile(remotePath, content string) {
	c.must(c.m.Write(remotePath, content))
	c.Cleanup(func() error {
		_, err := c.m.Execute("rm -f " + shellescape.Quote(remotePath))
		return err
	})
}

// RestoreFile snapshots a file now and restores it byte-for-byte during
// cleanup. If the file does not currently exist, cleanup removes whatever the
// test left at that path instead.
func (c *Case) RestoreFile(remotePath string) {
	if !c.remoteExists(remotePath) {
		c.Cleanup(func() error {
			_, err := c.m.Execute("rm -rf " + shellescape.Quote(remotePath))
			return err
		})
		return
	}

	backup := backupPath(remotePath)
	c.Execute(fmt.Sprintf("mkdir -p %s && cp -a %s %s",
		shellescape.Quote(vmTmpDir), shellescape.Quote(remotePath), shellescape.Quote(backup)))
	c.Cleanup(func() error {
		_, err := c.m.Execute(fmt.Sprintf("mv %s %s", shellescape.Quote(backup), shellescape.Quote(remotePath)))
		return err
	})
}

// RestoreDir snapshots a directory now and restores it during cleanup. The
// restore replaces the directory wholesale, so files created inside it during
// the test disappear with it.
func (c *Case) RestoreDir(remotePath string) {
	if !c.remoteExists(remotePath) {
		c.Cleanup(func() error {
			_, err := c.m.Execute("rm -rf " + shellescape.Quote(remotePath))
			return err
		})
		return
	}

	backup := backupPath(remotePath)
	c.Execute(fmt.Sprintf("mkdir -p %s && cp -a %s/ %s/",
		shellescape.Quote(vmTmpDir), shellescape.Quote(remotePath), shellescape.Quote(backup)))
	c.Cleanup(func() error {
		_, err := c.m.Execute(fmt.Sprintf("rm -rf %s && mv %s %s",
			shellescape.Quote(remotePath), shellescape.Quote(backup), shellescape.Quote(remotePath)))
		return err
	})
}

// SedFile applies an extended-regex substitution to a remote file in place.
// The prior content is kept in a backup the cleanup moves back.
func (c *Case) SedFile(remotePath, pattern, replacement string) {
	cmd, err := machine.SedCommand(remotePath, pattern, replacement, sedBackupSuffix)
	c.must(err)
	c.Execute(cmd)
	c.Cleanup(func() error {
		_, err := c.m.Execute(fmt.Sprintf("mv %s %s",
			shellescape.Quote(remotePath+sedBackupSuffix), shellescape.Quote(remotePath)))
		return err
	})
}

const sedBackupSuffix = ".machtest"

func (c *Case) remoteExists(remotePath string) bool {
	out := c.Execute(fmt.Sprintf("if test -e %s; then echo yes; fi", shellescape.Quote(remotePath)))
	return strings.TrimSpace(out) != ""
}

func backupPath(remotePath string) string {
	return path.Join(vmTmpDir, strings.ReplaceAll(remotePath, "/", "_"))
}
