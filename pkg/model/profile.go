package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProfileDesignInput is the accepted shape of a profile design document. It is
// only used to validate incoming partial documents; merging happens on the
// untyped form so that absent keys stay distinguishable from empty ones.
type ProfileDesignInput struct {
	Profile  *ProfileInput  `json:"profile,omitempty"`
	Design   *DesignInput   `json:"design,omitempty"`
	Settings *SettingsInput `json:"settings,omitempty"`
}

type ProfileInput struct {
	FullName     *string           `json:"fullName,omitempty"`
	Headline     *string           `json:"headline,omitempty"`
	Bio          *string           `json:"bio,omitempty"`
	Avatar       *string           `json:"avatar,omitempty"`
	Banner       *string           `json:"banner,omitempty"`
	Links        []LinkInput       `json:"links,omitempty"`
	Embeds       []EmbedInput      `json:"embeds,omitempty"`
	Testimonials []TestimonialItem `json:"testimonials,omitempty"`
	FAQs         []FAQItem         `json:"faqs,omitempty"`
	Services     []ServiceItem     `json:"services,omitempty"`
	Featured     []FeaturedItem    `json:"featured,omitempty"`
	Socials      map[string]string `json:"socials,omitempty"`
	Resume       *string           `json:"resume,omitempty"`
}

type LinkInput struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Icon      string `json:"icon,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type EmbedInput struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

type TestimonialItem struct {
	Name   string `json:"name"`
	Quote  string `json:"quote"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

type FAQItem struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type ServiceItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price,omitempty"`
	Image       string `json:"image,omitempty"`
	URL         string `json:"url,omitempty"`
}

type FeaturedItem struct {
	Title string `json:"title,omitempty"`
	Image string `json:"image,omitempty"`
	Video string `json:"video,omitempty"`
	URL   string `json:"url,omitempty"`
}

type DesignInput struct {
	Theme      *string `json:"theme,omitempty"`
	LayoutType *string `json:"layoutType,omitempty"`
	Accent     *string `json:"accent,omitempty"`
	Font       *string `json:"font,omitempty"`
}

type SettingsInput struct {
	SEO           *SEOInput `json:"seo,omitempty"`
	CustomDomain  *string   `json:"customDomain,omitempty"`
	PreferredLink *string   `json:"preferredLink,omitempty"`
}

type SEOInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
}

const maxLinks = 200

// DecodeProfileDesign validates raw against ProfileDesignInput and returns it
// as a generic keyed document. Unknown keys are rejected.
func DecodeProfileDesign(raw []byte) (map[string]interface{}, error) {
	var typed ProfileDesignInput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&typed); err != nil {
		return nil, WrapError(err, KindUnprocessable, "invalid profile design document")
	}
	if err := typed.validate(); err != nil {
		return nil, WrapError(err, KindUnprocessable, "invalid profile design document")
	}

	doc := map[string]interface{}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, WrapError(err, KindValidation, "invalid JSON body")
	}
	return doc, nil
}

func (p ProfileDesignInput) validate() error {
	if p.Profile != nil {
		if len(p.Profile.Links) > maxLinks {
			return fmt.Errorf("at most %d links are allowed", maxLinks)
		}
		for i, l := range p.Profile.Links {
			if l.URL == "" {
				return fmt.Errorf("link %d has no url", i)
			}
		}
	}
	if p.Settings != nil && p.Settings.CustomDomain != nil {
		return fmt.Errorf("customDomain is bound through domain verification")
	}
	return nil
}
