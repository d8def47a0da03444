package location

import "strings"

// conceptGroups lists multilingual variants that name the same kind of place.
var conceptGroups = [][]string{
	{
		"castle", "castillo", "schloss", "chateau", "château", "burg", "fortress", "festung",
		"alcazar", "alcázar", "castello", "palace", "palacio", "palazzo", "citadel", "torre",
		"tower", "tour", "fortification", "muralla", "wall", "defensa", "bastion", "castell",
	},
	{
		"ruins", "ruinas", "ruine", "rovina", "archaeological", "yacimiento", "remains", "restos",
		"excavation", "excavacion", "antiquity", "antigua", "piedras", "stones", "abandoned", "site",
	},
	{
		"museum", "museo", "musée", "musee", "gallery", "galerie", "galeria", "pinacoteca",
		"collection", "coleccion", "exhibition", "exhibicion", "art", "arte",
	},
	{
		"church", "iglesia", "kirche", "église", "eglise", "chiesa", "cathedral", "catedral",
		"dom", "basilica", "monastery", "monasterio", "kloster", "abbey", "abtei", "chapel", "kapelle",
	},
}

// ExpandTerms returns every variant of the concept group term belongs to, or
// the trimmed term alone.
func ExpandTerms(term string) []string {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return nil
	}
	for _, group := range conceptGroups {
		for _, v := range group {
			if v == t {
				out := make([]string, len(group))
				copy(out, group)
				return out
			}
		}
	}
	return []string{strings.TrimSpace(term)}
}
