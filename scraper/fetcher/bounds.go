package fetcher

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tidwall/gjson"

	"rental-ingest/models"
)

// Edge is one side of a bounding box.
type Edge int

const (
	North Edge = iota
	South
	East
	West
)

var edgeAliases = map[string]Edge{
	"north": North, "n": North, "maxlat": North, "latmax": North, "nelat": North, "northlat": North, "toplat": North,
	"south": South, "s": South, "minlat": South, "latmin": South, "swlat": South, "southlat": South, "bottomlat": South,
	"east": East, "e": East, "maxlng": East, "maxlon": East, "lngmax": East, "lonmax": East, "nelng": East, "nelon": East, "eastlng": East,
	"west": West, "w": West, "minlng": West, "minlon": West, "lngmin": West, "lonmin": West, "swlng": West, "swlon": West, "westlng": West,
}

// bboxKeys hold a whole box, either as "west,south,east,north" or as an
// object with edge keys.
var bboxKeys = map[string]bool{
	"bbox": true, "bounds": true, "boundingbox": true, "mapbounds": true, "viewport": true, "extent": true, "geobounds": true,
}

// normalizeName lowercases a parameter name and drops separators so that
// "ne_lat", "neLat" and "ne-lat" compare equal.
func normalizeName(name string) string {
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '[', ']':
			return -1
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, name)
}

// EdgeOf maps a parameter name onto the bounding-box edge it carries.
func EdgeOf(name string) (Edge, bool) {
	e, ok := edgeAliases[normalizeName(name)]
	return e, ok
}

// IsBoundsParam reports whether name carries a box or one of its edges.
// Single-letter edge names are too ambiguous to count on their own.
func IsBoundsParam(name string) bool {
	norm := normalizeName(name)
	if bboxKeys[norm] {
		return true
	}
	_, ok := edgeAliases[norm]
	return ok && len(norm) > 1
}

// boundsLayout records where a request carries its bounding box.
type boundsLayout struct {
	// bbox is a single param holding "west,south,east,north".
	bbox string
	// edges maps each edge to its query key or JSON body path.
	edges map[Edge]string
}

func (l *boundsLayout) complete() bool {
	return l.bbox != "" || len(l.edges) == 4
}

// detectBounds finds the box params of a request template. Edge params only
// count when all four are present.
func detectBounds(t *template) *boundsLayout {
	layout := &boundsLayout{edges: map[Edge]string{}}

	var names []string
	for k := range t.url.Query() {
		names = append(names, k)
	}
	sort.Strings(names)
	if t.jsonBody {
		names = append(names, bodyPaths(t.body)...)
	}

	for _, name := range names {
		norm := normalizeName(name)
		if bboxKeys[norm] {
			if v, _ := t.get(name); parseBBox(v) != nil {
				layout.bbox = name
				continue
			}
		}
		if e, ok := edgeAliases[norm]; ok {
			if _, dup := layout.edges[e]; !dup {
				layout.edges[e] = name
			}
		}
	}

	if !layout.complete() {
		return nil
	}
	return layout
}

// bodyPaths lists the keys of a JSON object and of the objects directly
// below it, as gjson paths.
func bodyPaths(body string) []string {
	var paths []string
	gjson.Parse(body).ForEach(func(k, v gjson.Result) bool {
		top := gjson.Escape(k.String())
		paths = append(paths, top)
		if v.IsObject() {
			v.ForEach(func(k2, _ gjson.Result) bool {
				paths = append(paths, top+"."+gjson.Escape(k2.String()))
				return true
			})
		}
		return true
	})
	return paths
}

// DetectBounds reads the bounding box a captured request was sent with, or
// nil when it carries none.
func DetectBounds(rawURL, method, body string) *models.BoundingBox {
	t, err := newTemplate(&models.DiscoveredEndpoint{URL: rawURL, Method: method, Body: body})
	if err != nil {
		return nil
	}
	layout := detectBounds(t)
	if layout == nil {
		return nil
	}
	return layout.read(t)
}

func (l *boundsLayout) read(t *template) *models.BoundingBox {
	if l.bbox != "" {
		v, _ := t.get(l.bbox)
		nums := parseBBox(v)
		if nums == nil {
			return nil
		}
		box := &models.BoundingBox{West: nums[0], South: nums[1], East: nums[2], North: nums[3]}
		if !box.Valid() {
			return nil
		}
		return box
	}

	vals := map[Edge]float64{}
	for e, name := range l.edges {
		v, _ := t.get(name)
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		vals[e] = f
	}
	box := &models.BoundingBox{North: vals[North], South: vals[South], East: vals[East], West: vals[West]}
	if !box.Valid() {
		return nil
	}
	return box
}

// write stores tile into t. Without a detected layout the four edges are
// sent as plain query params.
func (l *boundsLayout) write(t *template, tile orb.Bound) error {
	if l == nil {
		q := t.url.Query()
		q.Set("north", formatCoord(tile.Top()))
		q.Set("south", formatCoord(tile.Bottom()))
		q.Set("east", formatCoord(tile.Right()))
		q.Set("west", formatCoord(tile.Left()))
		t.url.RawQuery = q.Encode()
		return nil
	}
	if l.bbox != "" {
		v := strings.Join([]string{
			formatCoord(tile.Left()), formatCoord(tile.Bottom()),
			formatCoord(tile.Right()), formatCoord(tile.Top()),
		}, ",")
		return t.set(l.bbox, v)
	}
	values := map[Edge]float64{North: tile.Top(), South: tile.Bottom(), East: tile.Right(), West: tile.Left()}
	for e, name := range l.edges {
		if err := t.set(name, values[e]); err != nil {
			return err
		}
	}
	return nil
}

// Grid splits box into n×n tiles, row by row from the south-west corner.
func Grid(box models.BoundingBox, n int) []orb.Bound {
	if n < 1 {
		n = 1
	}
	whole := orb.Bound{Min: orb.Point{box.West, box.South}, Max: orb.Point{box.East, box.North}}
	dx := (whole.Right() - whole.Left()) / float64(n)
	dy := (whole.Top() - whole.Bottom()) / float64(n)

	tiles := make([]orb.Bound, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			minX := whole.Left() + float64(col)*dx
			minY := whole.Bottom() + float64(row)*dy
			maxX, maxY := minX+dx, minY+dy
			// pin the outer edges so float error never shrinks the box
			if col == n-1 {
				maxX = whole.Right()
			}
			if row == n-1 {
				maxY = whole.Top()
			}
			tiles = append(tiles, orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}})
		}
	}
	return tiles
}

// parseBBox reads "west,south,east,north".
func parseBBox(v string) []float64 {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil
	}
	nums := make([]float64, 0, 4)
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil
		}
		nums = append(nums, f)
	}
	return nums
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}
