package market

// Normalize builds a snapshot from a raw catalog. Hidden entries are dropped
// unless showHidden is set; when a short name repeats, the later entry wins.
func Normalize(c Catalog, showHidden bool) Snapshot {
	out := make(Snapshot, len(c.Objects))
	for _, o := range c.Objects {
		if o.Manifest.Hidden && !showHidden {
			continue
		}
		rec := PackageRecord{
			ShortName:   o.ShortName,
			Version:     o.Package.Version,
			Description: o.Manifest.Description,
			Hidden:      o.Manifest.Hidden,
		}
		if o.Package.Publisher != nil {
			rec.Publisher = o.Package.Publisher.Username
		}
		out[o.ShortName] = rec
	}
	return out
}
