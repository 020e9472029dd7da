package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// fullMessageSection is BODY.PEEK[]: the whole message, without setting \Seen.
var fullMessageSection = &imap.BodySectionName{Peek: true}

// FetchMessages fetches envelope, flags and the full body of the given UIDs,
// in ascending UID order. The folder must already be selected.
func FetchMessages(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
		fullMessageSection.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	result := make([]*imap.Message, 0, len(uids))
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Uid < result[j].Uid })
	return result, nil
}

// searchUIDs returns every UID in the selected folder.
func searchUIDs(c *client.Client) ([]uint32, error) {
	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return uids, nil
}

// searchUIDsFrom returns the UIDs at or above from in the selected folder.
// "from:*" always matches the highest message, so results are filtered.
func searchUIDsFrom(c *client.Client, from uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(from, 0)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search new messages: %w", err)
	}

	kept := uids[:0]
	for _, uid := range uids {
		if uid >= from {
			kept = append(kept, uid)
		}
	}
	return kept, nil
}

func uidSet(uids []uint32) *imap.SeqSet {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	return seqSet
}
