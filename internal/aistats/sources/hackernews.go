package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	hnConfidence  = 0.5
	hnConcurrency = 5
)

type hnStory struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Text        string `json:"text"`
	Type        string `json:"type"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// fetchHackerNews reads a Firebase story list (topstories.json and friends)
// and the first Params["limit"] items (default 30) with bounded concurrency.
func (a *APIAdapter) fetchHackerNews(ctx context.Context, src Source) ([]Candidate, error) {
	var ids []int
	ok, err := a.getJSON(ctx, src.URL, &ids)
	if err != nil {
		return nil, fmt.Errorf("fetch top stories: %w", err)
	}
	if !ok {
		return nil, nil
	}

	limit, _ := strconv.Atoi(src.Param("limit", "30"))
	if limit <= 0 {
		limit = 30
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	itemBase := src.URL[:strings.LastIndex(src.URL, "/")+1] + "item/"

	stories := make([]*hnStory, len(ids))
	sem := make(chan struct{}, hnConcurrency)
	done := make(chan struct{}, len(ids))
	for i, id := range ids {
		go func(i, storyID int) {
			sem <- struct{}{}
			defer func() {
				<-sem
				done <- struct{}{}
			}()

			var story hnStory
			if ok, err := a.getJSON(ctx, fmt.Sprintf("%s%d.json", itemBase, storyID), &story); err == nil && ok {
				stories[i] = &story
			}
		}(i, id)
	}
	for range ids {
		<-done
	}

	cands := make([]Candidate, 0, len(stories))
	for _, story := range stories {
		if story == nil || story.Dead || story.Deleted || story.Title == "" {
			continue
		}
		c := baseCandidate(src, hnConfidence)
		c.Title = CleanText(story.Title)
		c.URL = story.URL
		if c.URL == "" {
			c.URL = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		c.FullContent = CleanText(story.Text)
		c.BlurbSeed = fmt.Sprintf("%d points by %s with %d comments on Hacker News.", story.Score, story.By, story.Descendants)
		if c.FullContent != "" {
			c.BlurbSeed = Truncate(c.FullContent, MaxBlurbRunes)
		}
		if story.Time > 0 {
			c.PublishedAt = FormatPublished(time.Unix(story.Time, 0))
		}
		c.Metadata = map[string]any{
			"hn_id":    story.ID,
			"points":   story.Score,
			"comments": story.Descendants,
			"author":   story.By,
		}
		cands = append(cands, c)
	}
	return cands, nil
}
