// seed_catalog.go pushes a directory of catalog CSV tables into a running
// Crucible instance through the admin API, one entry at a time, so every
// planner sees the edits through crucible.catalog.updated.
//
// Usage:
//
//	go run scripts/seed_catalog.go -dir ./tables -api http://localhost:8700 -token $CRUCIBLE_ADMIN_TOKEN
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/MikeSquared-Agency/Crucible/internal/catalog"
)

func main() {
	dir := flag.String("dir", ".", "directory holding the catalog CSV files")
	apiURL := flag.String("api", "http://localhost:8700", "Crucible API base URL")
	token := flag.String("token", "", "admin bearer token")
	operator := flag.String("operator", "seed", "X-Operator-ID header value")
	dryRun := flag.Bool("dry-run", false, "print entries without posting")
	flag.Parse()

	cat, err := catalog.LoadDir(*dir)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	put := func(path string, body interface{}) {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("encode %s: %v", path, err)
		}
		if *dryRun {
			fmt.Printf("PUT %s %s\n", path, data)
			return
		}
		req, err := http.NewRequest(http.MethodPut, *apiURL+"/api/v1"+path, bytes.NewReader(data))
		if err != nil {
			log.Fatalf("build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Operator-ID", *operator)
		if *token != "" {
			req.Header.Set("Authorization", "Bearer "+*token)
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("PUT %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Fatalf("PUT %s: status %d", path, resp.StatusCode)
		}
	}

	for _, m := range cat.Materials() {
		put("/catalog/materials/"+url.PathEscape(m.Name), m)
	}
	for _, a := range cat.Additives() {
		put("/catalog/additives/"+url.PathEscape(a.Name), a)
	}
	for group, limits := range cat.AllLimits() {
		put("/catalog/groups/"+url.PathEscape(group)+"/limits", limits)
	}

	fmt.Printf("seeded %d materials, %d additives, %d groups\n",
		len(cat.Materials()), len(cat.Additives()), len(cat.Groups()))
}
