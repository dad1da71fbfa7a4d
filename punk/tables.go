package punk

// The tables below are part of the wire protocol: the six-byte payload
// stores bare indices into them. Entries must never be reordered, renamed
// or removed; additions append at the tail and require a TableVersion bump.

// backgroundTable is the frozen set of punk backdrops. The 4-bit payload
// field limits the table to 16 entries.
var backgroundTable = []string{
	0:  "Blue",
	1:  "Green",
	2:  "Red",
	3:  "Yellow",
	4:  "Orange",
	5:  "Pink",
	6:  "Purple",
	7:  "Teal",
	8:  "Gray",
	9:  "Brown",
	10: "Magenta",
	11: "Cyan",
	12: "Lime",
	13: "Indigo",
	14: "Gold",
	15: "Black",
}

// attributeTables maps each punk type to its frozen attribute table. The
// bit index within the payload's 32-bit attribute bitmap is the index into
// the table.
var attributeTables = map[Type][]string{
	TypeMale: {
		0:  "Beanie",
		1:  "Cap",
		2:  "Cap Forward",
		3:  "Cowboy Hat",
		4:  "Fedora",
		5:  "Headband",
		6:  "Hoodie",
		7:  "Knitted Cap",
		8:  "Top Hat",
		9:  "Wild Hair",
		10: "Mohawk",
		11: "Messy Hair",
		12: "Earring",
		13: "Gold Chain",
		14: "Silver Chain",
		15: "Nerd Glasses",
		16: "Regular Shades",
		17: "Big Shades",
		18: "Small Shades",
		19: "Eye Patch",
		20: "3D Glasses",
		21: "VR",
		22: "Cigarette",
		23: "Pipe",
		24: "Vape",
		25: "Smile",
		26: "Frown",
		27: "Buck Teeth",
		28: "Mustache",
		29: "Goatee",
		30: "Big Beard",
		31: "Mole",
	},
	TypeFemale: {
		0:  "Bandana",
		1:  "Blonde Bob",
		2:  "Blonde Short",
		3:  "Dark Hair",
		4:  "Half Shaved",
		5:  "Orange Side",
		6:  "Pigtails",
		7:  "Pilot Helmet",
		8:  "Red Mohawk",
		9:  "Straight Hair",
		10: "Tiara",
		11: "Wild White Hair",
		12: "Earring",
		13: "Gold Chain",
		14: "Choker",
		15: "Nerd Glasses",
		16: "Regular Shades",
		17: "Big Shades",
		18: "Welding Goggles",
		19: "Eye Mask",
		20: "Green Eye Shadow",
		21: "Blue Eye Shadow",
		22: "Purple Eye Shadow",
		23: "Cigarette",
		24: "Vape",
		25: "Hot Lipstick",
		26: "Purple Lipstick",
		27: "Black Lipstick",
		28: "Mole",
		29: "Rosy Cheeks",
		30: "Spots",
		31: "Clown Nose",
	},
	TypeZombie: {
		0:  "Torn Cap",
		1:  "Wild Hair",
		2:  "Mohawk",
		3:  "Headband",
		4:  "Earring",
		5:  "Regular Shades",
		6:  "Eye Patch",
		7:  "Cigarette",
		8:  "Front Beard",
		9:  "Exposed Brain",
		10: "Stitched Mouth",
		11: "Glowing Eyes",
		12: "Rotten Grin",
		13: "Bone Necklace",
		14: "Shredded Hoodie",
		15: "Grave Dirt",
	},
	TypeAlien: {
		0: "Alien Cap",
		1: "Laser Eyes",
		2: "UFO",
		3: "Antenna",
		4: "Small Shades",
		5: "Cap Forward",
		6: "Pipe",
		7: "Headband",
		8: "Earring",
		9: "Space Suit",
	},
	TypeApe: {
		0:  "Knitted Cap",
		1:  "Cap Forward",
		2:  "Fez",
		3:  "Headband",
		4:  "Gold Chain",
		5:  "Regular Shades",
		6:  "Small Shades",
		7:  "Banana",
		8:  "Cigar",
		9:  "Earring",
		10: "Silver Fur",
		11: "War Paint",
	},
}

// AttributeTable returns a copy of the frozen attribute table for the
// given punk type.
func AttributeTable(t Type) ([]string, error) {
	table, ok := attributeTables[t]
	if !ok {
		return nil, ErrInvalidType
	}

	out := make([]string, len(table))
	copy(out, table)

	return out, nil
}

// Backgrounds returns a copy of the frozen background table.
func Backgrounds() []string {
	out := make([]string, len(backgroundTable))
	copy(out, backgroundTable)

	return out
}

// NumBackgrounds is the number of entries in the frozen background table.
func NumBackgrounds() int {
	return len(backgroundTable)
}
