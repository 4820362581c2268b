package scraper

import (
	"encoding/json"
	"fmt"
	"os"
)

type SelectorConfig struct {
	HotDealsList ListSelectors `json:"hot_deals_list"`
}

type ListSelectors struct {
	Container ListContainer `json:"container"`
	Elements  ListElements  `json:"elements"`
}

type ListContainer struct {
	Item           string `json:"item"`            // e.g., "li.topic"
	IgnoreModifier string `json:"ignore_modifier"` // e.g., ".sticky"; empty keeps every item
}

type ListElements struct {
	TitleLink  string `json:"title_link"`
	Time       string `json:"time"`
	Views      string `json:"views"`
	Votes      string `json:"votes"`
	VoteCount  string `json:"vote_count"`
	ThumbsUp   string `json:"thumbs_up"`
	ThumbsDown string `json:"thumbs_down"`
	AuthorName string `json:"author_name"`
}

// LoadSelectors loads the selector configuration from the specified JSON file.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	return LoadSelectorsFromBytes(data)
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
// Elements missing from the JSON keep their default selector.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	config := DefaultSelectors()
	if err := json.Unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config JSON: %w", err)
	}
	if config.HotDealsList.Container.Item == "" {
		return SelectorConfig{}, fmt.Errorf("selector config has no item selector")
	}

	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is loaded.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		HotDealsList: ListSelectors{
			Container: ListContainer{
				Item: "li.topic",
			},
			Elements: ListElements{
				TitleLink:  "a.thread_title_link",
				Time:       "time",
				Views:      "div.views",
				Votes:      "div.votes",
				VoteCount:  "span",
				ThumbsUp:   `use[href="#thumbs-up"]`,
				ThumbsDown: `use[href="#thumbs-down"]`,
				AuthorName: "span.author_name",
			},
		},
	}
}
