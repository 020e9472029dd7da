package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// RunThreadCommand runs the THREAD command and returns the thread structure.
// Uses the REFERENCES algorithm to build thread relationships.
func RunThreadCommand(c *client.Client) ([]*sortthread.Thread, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	// Create a thread client using the sortthread extension
	threadClient := sortthread.NewThreadClient(c)

	// Create search criteria for all messages
	searchCriteria := imap.NewSearchCriteria()

	// Execute UID THREAD command with the REFERENCES algorithm
	threads, err := threadClient.UidThread(sortthread.References, searchCriteria)
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}

	return threads, nil
}

// supportsThread reports whether the server can thread by references.
func supportsThread(c *client.Client) bool {
	ok, err := c.Support("THREAD=REFERENCES")
	return err == nil && ok
}

// threadRoots maps every UID in threads to the UID of its thread's root.
func threadRoots(threads []*sortthread.Thread) map[uint32]uint32 {
	roots := make(map[uint32]uint32)

	var walk func(*sortthread.Thread, uint32)
	walk = func(thread *sortthread.Thread, root uint32) {
		if thread == nil {
			return
		}
		if root == 0 {
			root = firstID(thread)
		}
		if thread.Id != 0 {
			roots[thread.Id] = root
		}
		for _, child := range thread.Children {
			walk(child, root)
		}
	}

	for _, thread := range threads {
		walk(thread, 0)
	}
	return roots
}

// firstID finds the first real message of a thread. Servers send id 0 for
// missing parents whose replies are present.
func firstID(thread *sortthread.Thread) uint32 {
	if thread.Id != 0 {
		return thread.Id
	}
	for _, child := range thread.Children {
		if id := firstID(child); id != 0 {
			return id
		}
	}
	return 0
}
