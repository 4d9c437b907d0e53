package namemc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// ErrProfileNotFound is returned when Mojang has no account for the username.
var ErrProfileNotFound = errors.New("minecraft profile not found")

type Profile struct {
	Name        string
	UUID        string
	NameHistory []string
}

// Client looks up Minecraft profiles: the UUID comes from the Mojang API, the
// name history is scraped from the NameMC profile page.
type Client struct {
	http       *http.Client
	mojangBase string
	namemcBase string
}

func New() *Client {
	return &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		mojangBase: "https://api.mojang.com",
		namemcBase: "https://namemc.com",
	}
}

func (c *Client) Profile(ctx context.Context, username string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.mojangBase+"/users/profiles/minecraft/"+username, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, ErrProfileNotFound
	default:
		return nil, fmt.Errorf("mojang lookup failed: status %d", resp.StatusCode)
	}

	var body struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	profile := &Profile{Name: body.Name, UUID: body.ID}

	// NameMC is best effort; the profile is still useful without history.
	if history, err := c.nameHistory(ctx, body.ID); err == nil {
		profile.NameHistory = history
	}
	return profile, nil
}

func (c *Client) nameHistory(ctx context.Context, uuid string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.namemcBase+"/profile/"+uuid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("namemc lookup failed: status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	return collectNameLinks(doc), nil
}

// collectNameLinks walks the document for anchors pointing at /name/ pages,
// which is how the profile page lists previous usernames.
func collectNameLinks(node *html.Node) []string {
	var names []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, "/name/") {
					if text := nodeText(n); text != "" {
						names = append(names, text)
					}
					break
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)

	// The page repeats the current name in several places.
	seen := make(map[string]struct{}, len(names))
	unique := names[:0]
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique
}

func nodeText(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return strings.TrimSpace(sb.String())
}
