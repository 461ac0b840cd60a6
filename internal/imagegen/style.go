package imagegen

import (
	"strings"

	"github.com/gosimple/slug"
)

type Style string

const (
	StyleRealistic   Style = "realistic"
	StyleAnime       Style = "anime"
	StyleDigitalArt  Style = "digital_art"
	StyleOilPainting Style = "oil_painting"
	StyleWatercolor  Style = "watercolor"
	StyleSketch      Style = "sketch"
	StyleCyberpunk   Style = "cyberpunk"
	StyleFantasy     Style = "fantasy"
)

var styleSuffixes = map[Style]string{
	StyleRealistic:   "photorealistic, highly detailed, 8k, professional photography",
	StyleAnime:       "anime style, vibrant colors, detailed lineart, studio ghibli inspired",
	StyleDigitalArt:  "digital art, concept art, artstation, trending",
	StyleOilPainting: "oil painting, classical art style, impressionist, textured brushstrokes",
	StyleWatercolor:  "watercolor painting, soft colors, artistic, flowing",
	StyleSketch:      "pencil sketch, detailed linework, artistic, black and white",
	StyleCyberpunk:   "cyberpunk style, neon lights, futuristic, sci-fi",
	StyleFantasy:     "fantasy art, magical, ethereal, epic, detailed",
}

// Styles lists the supported style tags in display order.
func Styles() []Style {
	return []Style{
		StyleRealistic,
		StyleAnime,
		StyleDigitalArt,
		StyleOilPainting,
		StyleWatercolor,
		StyleSketch,
		StyleCyberpunk,
		StyleFantasy,
	}
}

// ParseStyle normalises user input such as "Digital Art" or "oil-painting".
// An empty input yields ("", true).
func ParseStyle(raw string) (Style, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	style := Style(strings.ReplaceAll(slug.Make(raw), "-", "_"))
	if _, ok := styleSuffixes[style]; !ok {
		return "", false
	}
	return style, true
}

// EnhancePrompt appends the style's descriptive suffix. Unknown or empty
// styles leave the prompt unchanged.
func EnhancePrompt(prompt string, style Style) string {
	suffix, ok := styleSuffixes[style]
	if !ok {
		return prompt
	}
	return prompt + ", " + suffix
}
