package bilibili

import "strings"

// Dynamic is one post in a creator's space feed.
type Dynamic struct {
	ID       string
	Type     string
	Author   string
	AuthorID int64
	PubTS    int64
	Text     string
	Pinned   bool
}

// URL is the public page of the dynamic.
func (d Dynamic) URL() string { return "https://t.bilibili.com/" + d.ID }

type feedResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Items []feedItem `json:"items"`
	} `json:"data"`
}

type feedItem struct {
	IDStr   string `json:"id_str"`
	Type    string `json:"type"`
	Modules struct {
		Author struct {
			Mid   int64  `json:"mid"`
			Name  string `json:"name"`
			PubTS int64  `json:"pub_ts"`
		} `json:"module_author"`
		Dynamic struct {
			Desc *struct {
				Text string `json:"text"`
			} `json:"desc"`
		} `json:"module_dynamic"`
		Tag *struct {
			Text string `json:"text"`
		} `json:"module_tag"`
	} `json:"modules"`
}

const pinnedTag = "置顶"

func (it feedItem) dynamic() Dynamic {
	d := Dynamic{
		ID:       strings.TrimSpace(it.IDStr),
		Type:     it.Type,
		Author:   it.Modules.Author.Name,
		AuthorID: it.Modules.Author.Mid,
		PubTS:    it.Modules.Author.PubTS,
		Pinned:   it.Modules.Tag != nil && it.Modules.Tag.Text == pinnedTag,
	}
	if it.Modules.Dynamic.Desc != nil {
		d.Text = it.Modules.Dynamic.Desc.Text
	}
	return d
}

type spiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Buvid3 string `json:"b_3"`
		Buvid4 string `json:"b_4"`
	} `json:"data"`
}
