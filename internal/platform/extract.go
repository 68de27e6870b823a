// internal/platform/extract.go
package platform

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// extractorJS walks the fallback item selectors in order, extracts one record
// per matched element, and returns the first strategy that produced anything.
// Field lookups are all best-effort; a result without a link is dropped here
// rather than surfacing half a record.
const extractorJS = `(function(cfg) {
    const text = (root, sel) => {
        if (!sel) { return ""; }
        const el = root.querySelector(sel);
        return el ? el.innerText.replace(/\s+/g, " ").trim() : "";
    };
    const href = (root, sel) => {
        if (!sel) { return ""; }
        const el = root.querySelector(sel);
        if (!el) { return ""; }
        let link = el.getAttribute("href") || "";
        if (!link) { return ""; }
        if (link.startsWith("//")) { return "https:" + link; }
        if (link.startsWith("/")) { return cfg.baseURL + link; }
        if (!/^https?:\/\//i.test(link)) { return cfg.baseURL + "/" + link; }
        return link;
    };
    for (const itemSel of cfg.itemSelectors) {
        const items = document.querySelectorAll(itemSel);
        if (items.length === 0) { continue; }
        const out = [];
        for (const item of items) {
            const link = href(item, cfg.linkSelector);
            if (!link) { continue; }
            out.push({
                title: text(item, cfg.titleSelector),
                link: link,
                summary: text(item, cfg.summarySelector),
                author: text(item, cfg.authorSelector),
                engagement: text(item, cfg.engagementSelector),
            });
        }
        if (out.length > 0) { return out; }
    }
    return [];
})(%s)`

// ExtractScript renders the in-page extraction script for this platform.
func (c Capabilities) ExtractScript() (string, error) {
	cfg := map[string]interface{}{
		"itemSelectors":      c.Extract.ItemSelectors,
		"titleSelector":      c.Extract.TitleSelector,
		"linkSelector":       c.Extract.LinkSelector,
		"summarySelector":    c.Extract.SummarySelector,
		"authorSelector":     c.Extract.AuthorSelector,
		"engagementSelector": c.Extract.EngagementSelector,
		"baseURL":            c.Extract.BaseURL,
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction config for %s: %w", c.Name, err)
	}
	return fmt.Sprintf(extractorJS, string(encoded)), nil
}

// anyMarkerJS checks whether any selector in the list matches at least one
// element. Used for empty/blocked marker probes.
const anyMarkerJS = `(function(selectors) {
    for (const sel of selectors) {
        try {
            if (document.querySelector(sel)) { return true; }
        } catch (e) { /* invalid selector in table; skip */ }
    }
    return false;
})(%s)`

// MarkerProbeScript renders a script answering "does any of these selectors
// match right now".
func MarkerProbeScript(selectors []string) (string, error) {
	encoded, err := json.Marshal(selectors)
	if err != nil {
		return "", fmt.Errorf("failed to encode marker selectors: %w", err)
	}
	return fmt.Sprintf(anyMarkerJS, string(encoded)), nil
}
