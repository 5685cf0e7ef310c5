package country

// Merge folds lookup rows into the registry. A row updates the entity
// already registered under its geoname id, else the one registered under
// its code, else a new entity. Values are coalesced: existing data is never
// erased by an empty column.
func Merge(reg *Registry, rows []Row) error {
	for i := range rows {
		fields := rows[i].Fields()

		target, ok := reg.ByID(rows[i].ID)
		if !ok {
			if code := rowCode(&rows[i]); code != "" {
				target, ok = reg.ByCode(code)
			}
		}
		if !ok {
			target = reg.NewCountry()
		}

		if err := target.Apply(fields); err != nil {
			return err
		}
	}
	return nil
}

func rowCode(r *Row) string {
	if r.ISO2.Valid && r.ISO2.String != "" {
		return NormalizeCode(r.ISO2.String)
	}
	if r.CountryCode.Valid {
		return NormalizeCode(r.CountryCode.String)
	}
	return ""
}

// collect returns the entities for resolutions in input order, one entry
// per distinct entity. Lookups without a matching row are left out.
func collect(reg *Registry, resolutions []Resolution) []*Country {
	seen := make(map[*Country]bool, len(resolutions))
	out := make([]*Country, 0, len(resolutions))

	for _, res := range resolutions {
		var c *Country
		switch res.Kind {
		case Resolved:
			c = res.Country
		case ByID:
			c, _ = reg.ByID(res.ID)
		case ByCode:
			c, _ = reg.ByCode(res.Code)
		}
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
